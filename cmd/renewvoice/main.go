// Command renewvoice runs a live prescription-renewal intake call: it
// captures microphone audio, streams it to the conversational model, plays
// the model's speech back, and prints (and optionally persists) the
// collected renewal record when the call completes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v84"

	"github.com/vango-go/renewvoice/internal/store"
	"github.com/vango-go/renewvoice/pkg/live"
	"github.com/vango-go/renewvoice/pkg/renewal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// Best effort; environment wins over .env.
	_ = godotenv.Load()

	var (
		model      = flag.String("model", envOr("RENEWVOICE_MODEL", "models/gemini-2.0-flash-live-001"), "model id")
		voice      = flag.String("voice", envOr("RENEWVOICE_VOICE", "Aoede"), "prebuilt voice name")
		endpoint   = flag.String("endpoint", os.Getenv("RENEWVOICE_ENDPOINT"), "override websocket endpoint")
		priceID    = flag.String("price", os.Getenv("STRIPE_PRICE_ID"), "Stripe price id for the renewal fee")
		showLevels = flag.Bool("levels", false, "print microphone level meter")
		debug      = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := live.DefaultConfig()
	cfg.Model = *model
	cfg.Voice = *voice
	cfg.Endpoint = *endpoint
	cfg.APIKey = apiKey
	cfg.SystemInstruction = renewal.SystemInstruction

	engine := live.NewEngine(cfg, logger)

	tools := &renewal.Tools{
		Notifier: &renewal.LogNotifier{Log: logger},
		Presenter: func(url string) {
			fmt.Printf("\n>> payment link: %s\n\n", url)
		},
		Log: logger,
	}
	if *priceID != "" {
		stripe.Key = os.Getenv("STRIPE_API_KEY")
		if stripe.Key == "" {
			return fmt.Errorf("STRIPE_API_KEY is required when -price is set")
		}
		tools.Payments = &renewal.StripeLinker{PriceID: *priceID, Log: logger}
	}
	tools.Register(engine, engine)

	var db *store.Store
	if url := os.Getenv("DATABASE_URL"); url != "" {
		var err error
		db, err = store.Open(ctx, url, logger)
		if err != nil {
			return fmt.Errorf("opening submission store: %w", err)
		}
		defer db.Close()
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	fmt.Println("Call connected. Speak when ready; Ctrl-C hangs up.")

	for {
		select {
		case <-ctx.Done():
			engine.Stop()
			printResult(engine, db)
			return nil
		case ev := <-engine.Events():
			switch ev := ev.(type) {
			case *live.AudioLevelEvent:
				if *showLevels {
					printLevel(ev.RMS)
				}
			case *live.ToolCallStartedEvent:
				logger.Info("tool call", "tool", ev.Name)
			case *live.RecordFinalizedEvent:
				fmt.Println("\nRenewal request accepted.")
			case *live.SessionErrorEvent:
				logger.Error("session error", "type", ev.Type, "message", ev.Message)
			case *live.SessionClosedEvent:
				printResult(engine, db)
				return nil
			}
		}
	}
}

// printResult renders the collected record and hands it to the store when
// one is configured. Uses a fresh context: the signal context is usually
// already cancelled by the time the record is persisted.
func printResult(engine *live.Engine, db *store.Store) {
	rec, ok := engine.Result()
	if !ok {
		fmt.Println("\nCall ended without a completed renewal request.")
		return
	}

	fmt.Println("\nCollected renewal request:")
	for _, field := range []string{
		renewal.FieldPatientName, renewal.FieldDateOfBirth, renewal.FieldMedication,
		renewal.FieldDosage, renewal.FieldPrescriber, renewal.FieldPharmacy,
		renewal.FieldContactPhone, renewal.FieldContactEmail, renewal.FieldNotes,
	} {
		if v, ok := rec[field]; ok {
			fmt.Printf("  %-14s %s\n", field+":", v)
		}
	}

	if db != nil {
		id, err := db.SaveSubmission(context.Background(), engine.SessionID(), rec)
		if err != nil {
			slog.Error("storing submission failed", "error", err)
			return
		}
		fmt.Printf("  stored as %s\n", id)
	}
}

// printLevel draws a crude single-line RMS meter.
func printLevel(rms float64) {
	const width = 30
	n := int(rms * float64(width) * 3)
	if n > width {
		n = width
	}
	bar := make([]byte, width)
	for i := range bar {
		if i < n {
			bar[i] = '#'
		} else {
			bar[i] = '-'
		}
	}
	fmt.Printf("\rmic [%s]", bar)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
