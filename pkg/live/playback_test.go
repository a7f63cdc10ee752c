package live

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

type fakeSink struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
	closes  int
}

func (s *fakeSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, pcm)
	return nil
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) counts() (writes, flushes, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes), s.flushes, s.closes
}

// frameOf builds a silent frame of the given duration at the playback rate.
func frameOf(d time.Duration) *AudioFrame {
	n := int(d.Seconds() * float64(PlaybackSampleRate))
	return &AudioFrame{Samples: make([]float32, n), SampleRate: PlaybackSampleRate}
}

func TestScheduler_ContiguousTimeline(t *testing.T) {
	clock := &fakeClock{}
	s := NewScheduler(&fakeSink{}, clock, nil)
	defer s.Close()

	// Chunks of 0.5s, 0.3s and 0.4s arriving back to back must start at
	// 0, 0.5 and 0.8 regardless of arrival jitter.
	durations := []time.Duration{
		500 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
	}
	want := []time.Duration{
		0,
		500 * time.Millisecond,
		800 * time.Millisecond,
	}

	for i, d := range durations {
		got := s.Schedule(frameOf(d), nil)
		if got != want[i] {
			t.Errorf("chunk %d start = %v, want %v", i, got, want[i])
		}
	}

	if got := s.NextStart(); got != 1200*time.Millisecond {
		t.Errorf("NextStart() = %v, want 1.2s", got)
	}
}

func TestScheduler_ClampsToClock(t *testing.T) {
	clock := &fakeClock{}
	s := NewScheduler(&fakeSink{}, clock, nil)
	defer s.Close()

	s.Schedule(frameOf(100*time.Millisecond), nil)

	// A gap: the clock runs past the end of the last chunk. The next chunk
	// must start now, not in the past.
	clock.advance(500 * time.Millisecond)
	got := s.Schedule(frameOf(100*time.Millisecond), nil)
	if got != 500*time.Millisecond {
		t.Errorf("post-gap start = %v, want 500ms", got)
	}
}

func TestScheduler_InterruptClearsEverything(t *testing.T) {
	clock := &fakeClock{}
	sink := &fakeSink{}
	s := NewScheduler(sink, clock, nil)
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.Schedule(frameOf(time.Second), nil)
	}
	if !s.IsSpeaking() {
		t.Fatal("IsSpeaking() = false with chunks queued")
	}

	clock.advance(250 * time.Millisecond)
	if n := s.Interrupt(); n != 3 {
		t.Errorf("Interrupt() cancelled %d, want 3", n)
	}
	if s.IsSpeaking() {
		t.Error("IsSpeaking() = true after interrupt")
	}
	if got := s.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d after interrupt, want 0", got)
	}
	if got := s.NextStart(); got != 250*time.Millisecond {
		t.Errorf("NextStart() = %v after interrupt, want clock position 250ms", got)
	}
	if _, flushes, _ := sink.counts(); flushes != 1 {
		t.Errorf("sink flushes = %d, want 1", flushes)
	}

	// Timeline restarts cleanly after the interrupt.
	if got := s.Schedule(frameOf(100*time.Millisecond), nil); got != 250*time.Millisecond {
		t.Errorf("post-interrupt start = %v, want 250ms", got)
	}
}

func TestScheduler_CompletionRemovesUnit(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, nil, nil) // wall clock
	defer s.Close()

	done := make(chan struct{})
	s.Schedule(frameOf(10*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}

	// The finish timer fires the callback and removal together; give the
	// registry a moment to settle.
	deadline := time.Now().Add(time.Second)
	for s.ActiveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveCount() = %d after completion, want 0", s.ActiveCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if writes, _, _ := sink.counts(); writes != 1 {
		t.Errorf("sink writes = %d, want 1", writes)
	}
}

func TestScheduler_CloseIdempotent(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, &fakeClock{}, nil)
	s.Schedule(frameOf(time.Second), nil)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, closes := sink.counts(); closes != 1 {
		t.Errorf("sink closes = %d, want 1", closes)
	}
}
