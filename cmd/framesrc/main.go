package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/framesrc/internal/caption"
	"github.com/zsiec/framesrc/internal/config"
	"github.com/zsiec/framesrc/internal/pipeline"
	"github.com/zsiec/framesrc/internal/pixstore"
	"github.com/zsiec/framesrc/internal/source"
	"github.com/zsiec/framesrc/internal/stream"
)

var version = "dev"

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("framesrc starting",
		"version", version,
		"inputs", len(cfg.Inputs),
		"concurrency", cfg.Concurrency,
		"metrics", cfg.MetricsAddr,
	)

	a := &app{
		cfg:  cfg,
		pool: pixstore.New(nil),
		mgr:  stream.NewManager(nil),
	}

	if err := a.run(ctx); err != nil {
		slog.Error("decode failed", "error", err)
		os.Exit(1)
	}
	st := a.pool.Stats()
	slog.Info("done",
		"buffers_allocated", st.Allocated,
		"buffers_acquired", st.Acquired,
		"buffers_in_flight", st.InFlight(),
	)
}

type app struct {
	cfg  *config.Config
	pool *pixstore.Pool
	mgr  *stream.Manager
}

func (a *app) run(ctx context.Context) error {
	passCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()

	g, gctx := errgroup.WithContext(passCtx)

	if a.cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", a.cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	passes, pctx := errgroup.WithContext(gctx)
	passes.SetLimit(a.cfg.Concurrency)
	for _, in := range a.cfg.Inputs {
		passes.Go(func() error {
			return a.decode(pctx, in)
		})
	}
	g.Go(func() error {
		defer stopMetrics()
		return passes.Wait()
	})
	return g.Wait()
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// decode runs one pass over path.
func (a *app) decode(ctx context.Context, path string) error {
	s, created := a.mgr.Create(path)
	if !created {
		return nil
	}
	defer a.mgr.Remove(path)

	log := slog.With("input", path)
	opts := []source.Option{
		source.WithContext(ctx),
		source.WithLogger(log),
		source.WithDownscale(a.cfg.Downscale),
		source.WithMaxImageFrames(a.cfg.MaxImages),
	}
	if a.cfg.ReorderDepth > 0 {
		opts = append(opts, source.WithReorderDepth(a.cfg.ReorderDepth))
	}
	if a.cfg.Captions {
		opts = append(opts, source.WithCaptions())
	}
	src, err := source.Open(path, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer src.Close()

	sink := &summarySink{log: log, pass: s}
	p := pipeline.New(path, src, a.pool, sink,
		pipeline.WithLogger(log),
		pipeline.WithSeek(a.cfg.SeekFrame),
		pipeline.WithMaxFrames(a.cfg.MaxFrames),
	)
	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	st := p.Stats()
	log.Info("pass finished",
		"format", src.Format(),
		"video", src.VideoCodecMetaSafe().Codec,
		"audio", src.AudioCodecMetaSafe().Codec,
		"video_frames", st.VideoFrames,
		"audio_frames", st.AudioFrames,
		"captions", st.Captions,
		"audio_bytes", sink.audioBytes,
		"elapsed", st.Elapsed.Round(time.Millisecond),
	)
	return nil
}

// summarySink logs the shape of the first frames and counts the rest.
type summarySink struct {
	log        *slog.Logger
	pass       *stream.Stream
	videoSeen  bool
	audioSeen  bool
	audioBytes int64
}

func (s *summarySink) Video(f *source.DecodedFrame) error {
	if !s.videoSeen {
		pic := f.Picture()
		d := pic.DisplaySize()
		s.log.Info("first video frame",
			"width", d.Width, "height", d.Height, "color", pic.Color,
			"pts", f.Packet.PTS, "timescale", f.Packet.Timescale, "type", f.Packet.FrameType)
		s.videoSeen = true
	}
	s.pass.AddFrames(1)
	return nil
}

func (s *summarySink) Audio(f *source.AudioFrame) error {
	if !s.audioSeen {
		s.log.Info("first audio frame",
			"sample_rate", f.Buffer.Format.SampleRate, "channels", f.Buffer.Format.Channels,
			"samples", f.Buffer.NumSamples)
		s.audioSeen = true
	}
	s.audioBytes += int64(len(f.Buffer.Data))
	return nil
}

func (s *summarySink) Captions(c *caption.Frame) {
	s.log.Info("caption", "channel", c.Channel, "pts", c.PTS, "text", c.Text)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig reads FRAMESRC_CONFIG. Inputs on the command line replace
// the configured ones.
func loadConfig(args []string) (*config.Config, error) {
	if len(args) > 0 {
		if err := os.Setenv("FRAMESRC_INPUTS", strings.Join(args, ",")); err != nil {
			return nil, err
		}
	}
	return config.Load(envOr("FRAMESRC_CONFIG", ""))
}
