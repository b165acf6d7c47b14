package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/biotrace-data/vitals.monitor/api"
	"github.com/biotrace-data/vitals.monitor/internal/config"
	"github.com/biotrace-data/vitals.monitor/internal/db"
	"github.com/biotrace-data/vitals.monitor/internal/expression"
	"github.com/biotrace-data/vitals.monitor/internal/fusion"
	"github.com/biotrace-data/vitals.monitor/internal/fusion/monitor"
	"github.com/biotrace-data/vitals.monitor/internal/fusion/network"
	"github.com/biotrace-data/vitals.monitor/internal/fusion/osc"
	"github.com/biotrace-data/vitals.monitor/internal/hub"
	"github.com/biotrace-data/vitals.monitor/internal/market"
	"github.com/biotrace-data/vitals.monitor/internal/serialfeed"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	oscListen     = flag.String("osc-listen", ":5001", "UDP listen address for the headband OSC stream")
	configPath    = flag.String("config", "", "Optional JSON tuning file; omitted fields keep their defaults")
	dbFile        = flag.String("db", "vitals.db", "Session database path")
	serialDevice  = flag.String("serial", "", "Serial bridge device for the alternate ingest path (empty disables)")
	serialBaud    = flag.Int("serial-baud", 115200, "Serial bridge baud rate")
	expressionURL = flag.String("expression-url", "", "Facial-expression sidecar endpoint (empty disables the cue)")
	marketQuotes  = flag.Bool("market", false, "Poll the market quote endpoint for the position suggestion")
	traceDir      = flag.String("trace-dir", "", "Base directory for feature trace plots (empty disables)")
	sessionNotes  = flag.String("notes", "", "Free-form notes stored on the session record")
	hubBuffer     = flag.Int("hub-buffer", 16, "Per-subscriber update queue depth")
)

// shutdownGrace bounds how long we wait for workers to drain after the stop
// signal; anything still running after that is logged and abandoned.
const shutdownGrace = 10 * time.Second

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("listen address is required")
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
		log.Printf("loaded tuning overrides from %s", *configPath)
	}
	params := tuning.Params()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	session, err := database.CreateSession(*sessionNotes)
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	log.Printf("session %s started", session.ID)

	store := fusion.NewStore(fusion.StoreConfigFor(params))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// UDP/OSC is the primary ingest path; it must be receiving before
	// calibration starts so the store has data to record.
	ingestStats := network.NewIngestStats()
	listener := network.NewListener(network.Config{
		Address: *oscListen,
		Stats:   ingestStats,
		Handler: osc.NewDispatcher(store),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("osc listener failed: %v", err)
			stop()
		}
		log.Print("osc listener routine terminated")
	}()

	// Optional serial bridge: same samples, line-framed over a wire instead
	// of OSC over UDP.
	if *serialDevice != "" {
		feed, err := serialfeed.NewBridgeFeed(*serialDevice, serialfeed.PortOptions{BaudRate: *serialBaud})
		if err != nil {
			log.Fatalf("failed to open serial bridge %s: %v", *serialDevice, err)
		}
		defer feed.Close()
		if err := feed.Initialize(); err != nil {
			log.Fatalf("failed to initialize serial bridge: %v", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial feed monitor failed: %v", err)
			}
			log.Print("serial feed routine terminated")
		}()

		consumer := serialfeed.NewConsumer(store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, lines := feed.Subscribe()
			defer feed.Unsubscribe(id)
			consumer.Run(ctx, lines)
			log.Print("serial consumer routine terminated")
		}()
	}

	// Calibration blocks while the transports fill the buffers. A partial
	// baseline is useless for thresholding, so failure aborts startup.
	calibrator := fusion.NewCalibrator(store, params)
	if err := calibrator.Run(ctx); err != nil {
		interrupted := ctx.Err() != nil
		stop()
		wg.Wait()
		if endErr := database.EndSession(session.ID); endErr != nil {
			log.Printf("failed to end session: %v", endErr)
		}
		if interrupted {
			log.Printf("interrupted during calibration: %v", err)
			return
		}
		log.Fatalf("calibration failed: %v", err)
	}
	if err := database.RecordBaseline(session.ID, store.GetBaseline()); err != nil {
		log.Printf("failed to record baseline: %v", err)
	}

	updates := hub.New[fusion.Update](*hubBuffer)
	defer updates.Close()

	recorder := db.NewRecorder(database, session.ID, 0)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := recorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("recorder failed: %v", err)
		}
		log.Print("recorder routine terminated")
	}()

	sinks := []fusion.CycleSink{recorder}

	tracer := monitor.NewTracePlotter(0)
	if *traceDir != "" {
		outDir := monitor.MakeTraceOutputDir(*traceDir, "")
		if err := tracer.Start(outDir); err != nil {
			log.Fatalf("failed to start trace plotter: %v", err)
		}
		tracer.SetBaseline(store.GetBaseline())
		sinks = append(sinks, tracer)
		log.Printf("feature traces recording to %s", outDir)
	}

	procCfg := fusion.ProcessorConfig{
		Notifier: updates,
		Sink:     fusion.MultiSink(sinks...),
	}

	var expr *expression.Client
	if *expressionURL != "" {
		expr = expression.NewClient(nil, *expressionURL)
		procCfg.Expression = expr
	}

	var tracker *market.Tracker
	if *marketQuotes {
		tracker = market.NewTracker(nil, market.Config{})
		procCfg.Trend = tracker
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("market tracker failed: %v", err)
			}
			log.Print("market tracker routine terminated")
		}()
	}

	proc := fusion.NewProcessor(store, params, procCfg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		proc.Run(ctx)
		log.Print("processor routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (local or Tailscale access only)
		database.AttachAdminRoutes(mux)
		if tracer.IsEnabled() {
			mux.Handle("/debug/trace", tracer)
		}

		apiSrv := api.NewServer(api.Config{
			Processor:  proc,
			Store:      store,
			Updates:    updates,
			DB:         database,
			Recorder:   recorder,
			Market:     tracker,
			Expression: expr,
			Ingest:     ingestStats,
		})
		mux.Handle("/api/", api.LoggingMiddleware(apiSrv.ServeMux()))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server failed: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// The grace period starts at the stop signal, not at startup: workers
	// get the full window to drain once shutdown begins.
	<-ctx.Done()
	if !waitTimeout(&wg, shutdownGrace) {
		log.Printf("shutdown timed out after %s; abandoning remaining workers", shutdownGrace)
	}

	if tracer.IsEnabled() {
		if n, err := tracer.GeneratePlots(); err != nil {
			log.Printf("failed to render feature traces: %v", err)
		} else {
			log.Printf("rendered %d feature trace plots", n)
		}
	}

	if err := database.EndSession(session.ID); err != nil {
		log.Printf("failed to end session: %v", err)
	}
	log.Printf("graceful shutdown complete")
}

// waitTimeout waits for the group with an upper bound, reporting whether
// every worker finished in time.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
