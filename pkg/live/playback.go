package live

import (
	"log/slog"
	"sync"
	"time"
)

// Clock is the scheduler's time source. The zero point is arbitrary; only
// monotonic differences matter. Injectable for deterministic tests.
type Clock interface {
	Now() time.Duration
}

type systemClock struct {
	epoch time.Time
}

func newSystemClock() *systemClock {
	return &systemClock{epoch: time.Now()}
}

func (c *systemClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// Sink receives PCM16LE bytes for audible output.
type Sink interface {
	// Write appends PCM to the output stream.
	Write(pcm []byte) error
	// Flush discards any written-but-unplayed audio.
	Flush()
	Close() error
}

// playbackUnit is one scheduled chunk: its frame, its start position on the
// session timeline and the timers that drive it through start and completion.
type playbackUnit struct {
	id        uint64
	frame     *AudioFrame
	startAt   time.Duration
	onDone    func()
	startTmr  *time.Timer
	finishTmr *time.Timer
}

// Scheduler lays decoded frames onto a gapless timeline. Chunks are placed
// strictly back to back: each start is the later of the running timeline
// position and the current clock, and the position then advances by the
// chunk's duration. All bookkeeping lives under one mutex.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	sink   Sink
	log    *slog.Logger
	next   time.Duration
	nextID uint64
	active map[uint64]*playbackUnit
	closed bool
}

// NewScheduler creates a scheduler writing to sink. A nil clock selects the
// wall clock.
func NewScheduler(sink Sink, clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = newSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		log:    logger.With("component", "playback"),
		active: make(map[uint64]*playbackUnit),
	}
}

// Schedule places a frame on the timeline and returns its start position.
// onDone, if non-nil, fires once when the chunk finishes playing; it is not
// called for chunks cancelled by Interrupt or Close.
func (s *Scheduler) Schedule(frame *AudioFrame, onDone func()) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	start := s.next
	if now > start {
		start = now
	}
	s.next = start + frame.Duration()

	if s.closed {
		return start
	}

	s.nextID++
	u := &playbackUnit{
		id:      s.nextID,
		frame:   frame,
		startAt: start,
		onDone:  onDone,
	}
	s.active[u.id] = u
	u.startTmr = time.AfterFunc(start-now, func() { s.play(u.id) })
	return start
}

// play writes the unit's PCM to the sink and arms the completion timer.
func (s *Scheduler) play(id uint64) {
	s.mu.Lock()
	u, ok := s.active[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	pcm := pcm16Bytes(u.frame.Samples)
	u.finishTmr = time.AfterFunc(u.frame.Duration(), func() { s.complete(id) })
	s.mu.Unlock()

	if err := s.sink.Write(pcm); err != nil {
		s.log.Warn("sink write failed", "error", err)
	}
}

// complete removes the unit from the active set and fires its callback.
func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	u, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	s.mu.Unlock()

	if ok && u.onDone != nil {
		u.onDone()
	}
}

// Interrupt cancels every pending and in-flight chunk, empties the active
// set, re-bases the timeline at the current clock and flushes the sink.
// Returns how many chunks were cancelled.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	n := len(s.active)
	s.cancelAllLocked()
	s.next = s.clock.Now()
	s.mu.Unlock()

	s.sink.Flush()
	return n
}

// IsSpeaking reports whether any chunk is pending or playing.
func (s *Scheduler) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// ActiveCount returns the size of the active set.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the current timeline position.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close cancels all chunks and closes the sink. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelAllLocked()
	s.mu.Unlock()

	s.sink.Flush()
	return s.sink.Close()
}

func (s *Scheduler) cancelAllLocked() {
	for id, u := range s.active {
		u.startTmr.Stop()
		if u.finishTmr != nil {
			u.finishTmr.Stop()
		}
		delete(s.active, id)
	}
}
