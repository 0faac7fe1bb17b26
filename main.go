package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rmackay9/blueos-precision-landing/internal/api"
	"github.com/rmackay9/blueos-precision-landing/internal/capture"
	"github.com/rmackay9/blueos-precision-landing/internal/config"
	"github.com/rmackay9/blueos-precision-landing/internal/detector"
	"github.com/rmackay9/blueos-precision-landing/internal/landing"
	"github.com/rmackay9/blueos-precision-landing/internal/mavlink"
	"github.com/rmackay9/blueos-precision-landing/internal/settings"
	"github.com/rmackay9/blueos-precision-landing/internal/version"
)

var (
	listen      = flag.String("listen", ":8000", "Listen address")
	dbFile      = flag.String("db", "precision_landing.db", "Settings database path")
	mavlinkURL  = flag.String("mavlink", mavlink.DefaultEndpoint, "MAV2Rest endpoint")
	tuningFile  = flag.String("tuning", "", "Optional loop tuning overrides (JSON)")
	frameWidth  = flag.Int("frame-width", 0, "Requested decode width (0 = native)")
	frameHeight = flag.Int("frame-height", 0, "Requested decode height (0 = native)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("precision-landing %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	store, err := settings.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open settings database: %v", err)
	}
	defer store.Close()

	gateway := mavlink.NewClient(*mavlinkURL, nil)

	newSource := func() landing.FrameSource {
		return capture.NewRTSPSource(capture.Options{
			Width:     *frameWidth,
			Height:    *frameHeight,
			Grayscale: true,
		})
	}
	det := &detector.Blob{}

	loopCfg := landing.Config{
		Source:   newSource(),
		Detector: det,
		Monitor:  gateway,
		Gateway:  gateway,
	}
	if *tuningFile != "" {
		tuning, err := config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning.Apply(&loopCfg)
	}
	loop := landing.NewLoop(loopCfg)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(store, loop, gateway, det, newSource)

	// resume the loop if it was enabled on the last run
	if st, err := store.Get(); err != nil {
		log.Printf("failed to load settings: %v", err)
	} else if st.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			autoStart(ctx, store, loop)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.LoggingMiddleware(server.ServeMux())

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if err := loop.Stop(); err != nil && err != landing.ErrNotRunning {
		log.Printf("failed to stop landing loop: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// autoStart retries loop startup until it succeeds or the process is asked to
// shut down. The camera or the vehicle bridge may come up minutes after this
// service does, so startup failures are retried rather than fatal.
func autoStart(ctx context.Context, store *settings.Store, loop *landing.Loop) {
	const retryDelay = 10 * time.Second

	for ctx.Err() == nil {
		st, err := store.Get()
		if err != nil {
			log.Printf("autostart: failed to load settings: %v", err)
			return
		}
		if !st.Enabled {
			return
		}

		cam, err := store.LastUsed()
		if err != nil || cam == nil {
			log.Printf("autostart: no camera profile available: %v", err)
			return
		}

		err = loop.Start(landing.Profile{
			CameraType:       cam.CameraType,
			StreamURL:        cam.StreamURL,
			HorizontalFOVDeg: cam.HorizontalFOVDeg,
			Detector: landing.DetectorParams{
				Family:   st.DetectorFamily,
				TargetID: st.DetectorTargetID,
				Accuracy: st.DetectorAccuracy,
			},
			GatingEnabled:  st.GatingEnabled,
			LensCorrection: st.LensCorrection,
			SystemID:       st.GatewaySystemID,
		})
		if err == nil || err == landing.ErrAlreadyRunning {
			return
		}

		log.Printf("autostart: %v (retrying in %s)", err, retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}
