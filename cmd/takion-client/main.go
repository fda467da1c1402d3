// takion-client connects to a console stream endpoint with the keys of an
// already registered and started session, then reports stream statistics
// until interrupted.
//
// Usage:
//
//	takion-client -config client.yaml [-host 192.168.1.20] [-video-out stream.h264]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"

	chiaki "github.com/Axixi2233/chiaki-android"
	"github.com/Axixi2233/chiaki-android/av/audio"
	"github.com/Axixi2233/chiaki-android/config"
	"github.com/Axixi2233/chiaki-android/errs"
	"github.com/Axixi2233/chiaki-android/metrics"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", "", "Path to the YAML configuration file")
	host := flag.String("host", "", "Console address, overrides takion.host")
	videoOut := flag.String("video-out", "", "Write the received video elementary stream to this file")
	statsInterval := flag.Duration("stats", 2*time.Second, "Interval between status lines")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	pterm.Info.Println(fmt.Sprintf("takion-client v%s", version))
	pterm.Println()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			pterm.Error.Println(err.Error())
			os.Exit(1)
		}
	}
	if *host != "" {
		cfg.Takion.Host = *host
	}
	if *debugMode {
		cfg.Logging.Level = "debug"
	}

	logger := logrus.New()
	if err := cfg.Logging.Apply(logger); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger, *videoOut, *statsInterval); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
	pterm.Success.Println("Session closed")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, videoOut string, statsInterval time.Duration) error {
	opts, err := chiaki.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.Logger = logger

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts.Metrics = metrics.New(reg)
		srv := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer srv.Close()
	}

	if !cfg.Crypto.Configured() {
		pterm.Warning.Println("No session keys configured, packets are neither authenticated nor decrypted")
	}

	session, err := chiaki.NewSession(opts)
	if err != nil {
		return err
	}

	var video *os.File
	if videoOut != "" {
		video, err = os.Create(videoOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", videoOut, err)
		}
		defer video.Close()
	}
	session.CallbackVideoFrame(func(frame []byte) bool {
		if video == nil {
			return true
		}
		if _, err := video.Write(frame); err != nil {
			logger.WithFields(logrus.Fields{
				"function": "run",
				"error":    err.Error(),
			}).Error("Failed to write video frame")
		}
		return true
	})
	session.CallbackCorruptFrame(func(start, end uint16) {
		logger.WithFields(logrus.Fields{
			"function": "run",
			"start":    start,
			"end":      end,
		}).Warn("Corrupt video frames")
	})

	var samples atomic.Uint64
	sink := audio.NewOpusSink(func(pcm []int16, sampleRate uint32, stereo bool) {
		samples.Add(uint64(len(pcm)))
	}, logger)
	session.CallbackAudioFrame(sink.Frame)

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Connecting to %s", opts.Addr))
	if err := session.Start(ctx); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	defer session.Close()

	select {
	case <-session.Connected():
		spinner.Success(fmt.Sprintf("Connected to %s (protocol %d)", opts.Addr, opts.ProtocolVersion))
	case <-session.Done():
		spinner.Fail("Connection failed")
		return session.Err()
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-session.Done():
			if err := session.Err(); err != nil && !errs.IsShutdown(err) {
				return err
			}
			return nil
		case <-ticker.C:
			st := session.Stats()
			decoded, failed := sink.Stats()
			pterm.Info.Println(fmt.Sprintf(
				"state=%s video=%d frames %.2f Mbit/s lost=%d audio=%d frames (%d decoded, %d failed, %d samples) postponed=%d unacked=%d",
				st.State, st.VideoFrames, float64(st.VideoBitrate)/1e6, st.FramesLost,
				st.AudioFrames, decoded, failed, samples.Load(), st.Postponed, st.SendBuffer,
			))
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"addr":     addr,
				"error":    err.Error(),
			}).Error("Metrics server failed")
		}
	}()
	pterm.Info.Println(fmt.Sprintf("Metrics on http://%s/metrics", addr))
	return srv
}
