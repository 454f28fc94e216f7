// Rover runs the rescue rover's perception and control core: continuous
// camera capture, fast positional survivor detection driving the motion
// state machine, and slow deep medical analysis of recorded segments.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rescuedyne/go-rover/internal/config"
	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/actuator"
	"github.com/rescuedyne/go-rover/pkg/analyze"
	"github.com/rescuedyne/go-rover/pkg/detect"
	"github.com/rescuedyne/go-rover/pkg/frame"
	"github.com/rescuedyne/go-rover/pkg/mission"
	"github.com/rescuedyne/go-rover/pkg/web"
)

func main() {
	_ = godotenv.Load()

	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	remoteCamera := flag.String("remote-camera", "", "Use a remote websocket camera feed (host:port) instead of a local device")
	noDashboard := flag.Bool("no-dashboard", false, "Disable the web dashboard")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *remoteCamera != "" {
		cfg.RemoteCameraAddr = *remoteCamera
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := newSource(cfg)
	detector := detect.NewGeminiDetector(cfg.GeminiAPIKey, cfg.DetectTimeout)
	analyzer := analyze.NewGeminiAnalyzer(cfg.GeminiAPIKey, cfg.AnalyzeTimeout)
	sender := actuator.NewClient(cfg.ActuatorURL(), cfg.ActuatorRetries, cfg.ActuatorTimeout)
	rescue := mission.NewLogProtocol()

	orchestrator := mission.New(cfg, source, detector, analyzer, sender, rescue, nil)
	if !*noDashboard {
		dashboard := web.NewServer(cfg.DashboardPort, orchestrator)
		orchestrator.SetSink(dashboard.EventSink())

		go func() {
			if err := dashboard.Run(ctx); err != nil {
				log.Error("dashboard server failed", "error", err)
			}
		}()
		go streamCamera(ctx, source, dashboard)
	}

	if err := orchestrator.Run(ctx); err != nil {
		log.Error("mission failed", "error", err)
		os.Exit(1)
	}
}

// newSource picks between the local device and a remote websocket feed.
func newSource(cfg config.Config) frame.Source {
	opts := frame.Options{
		BufferSize:     cfg.BufferSize,
		AcquireRetries: cfg.CameraRetries,
	}
	if cfg.RemoteCameraAddr != "" {
		return frame.NewRemoteSource(cfg.RemoteCameraAddr, opts)
	}
	return frame.NewCameraSource(cfg.CameraID, opts)
}

// streamCamera forwards live frames to dashboard viewers.
func streamCamera(ctx context.Context, source frame.Source, dashboard *web.Server) {
	frames, cancel := source.Stream("dashboard")
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			dashboard.PublishFrame(f.Data)
		}
	}
}
