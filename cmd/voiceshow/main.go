package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/hanrai/VoiceShow/internal/app"
	"github.com/hanrai/VoiceShow/internal/audio/mic"
)

func main() {
	var (
		deviceName = flag.String("audio-device", "", "Optional PortAudio device name (substring match)")
		listDevs   = flag.Bool("list-audio-devices", false, "List available audio input devices and exit")
		noAudio    = flag.Bool("no-audio", false, "Run with the synthetic source instead of a microphone")
		targetFPS  = flag.Float64("fps", 30, "Meter refresh rate")
		bufferSize = flag.Int("buffer-size", 2048, "Samples per analysis frame (power of two recommended)")
		configPath = flag.String("config", "", "YAML parameters file, reloaded on change")
		listenAddr = flag.String("listen", "", "HTTP address for the snapshot API, websocket and /metrics (empty disables)")
		journalDB  = flag.String("journal", "", "SQLite file recording event onsets (empty disables)")
		profileCSV = flag.String("profile", "", "Append per-frame stage timings to this CSV file")
		queueSize  = flag.Int("queue", 8, "Frame queue capacity; 0 polls the source from the render loop")
		seed       = flag.Int64("seed", 0, "Seed for the synthetic source and k-means initialisation (0 picks a random seed)")
		debug      = flag.Bool("debug", false, "Enable verbose logging")
		noColor    = flag.Bool("no-color", false, "Disable ANSI color output")
		showStatus = flag.Bool("status", true, "Display status bar")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *targetFPS <= 0 {
		fatal(logger, "fps must be positive", "fps", *targetFPS)
	}
	if *bufferSize <= 0 {
		fatal(logger, "buffer-size must be positive", "buffer_size", *bufferSize)
	}
	if *queueSize < 0 {
		fatal(logger, "queue must not be negative", "queue", *queueSize)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	needAudio := !*noAudio || *listDevs
	if needAudio {
		if err := mic.Initialize(); err != nil {
			fatal(logger, "failed to initialize PortAudio", "err", err)
		}
		defer mic.Terminate()
	}

	if *listDevs {
		listDevices(logger)
		return
	}

	headless := !term.IsTerminal(int(os.Stdout.Fd()))
	if headless {
		logger.Info("stdout is not a terminal, meter disabled")
	}

	a, err := app.New(ctx, app.Config{
		DeviceName:    *deviceName,
		TargetFPS:     *targetFPS,
		FrameSize:     *bufferSize,
		DisableAudio:  *noAudio,
		Headless:      headless,
		ShowStatusBar: *showStatus,
		UseANSI:       !*noColor,
		QueueSize:     *queueSize,
		Seed:          *seed,
		ProfilePath:   *profileCSV,
		ListenAddr:    *listenAddr,
		JournalPath:   *journalDB,
		ParamsPath:    *configPath,
		Log:           logger,
	})
	if err != nil {
		fatal(logger, "failed to create app", "err", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		logger.Error("runtime error", "err", err)
		return
	}
	if ctx.Err() != nil {
		fmt.Println("\nExiting...")
	}
	time.Sleep(50 * time.Millisecond)
}

func listDevices(logger *slog.Logger) {
	devices, err := mic.ListInputDevices()
	if err != nil {
		fatal(logger, "list devices", "err", err)
	}
	fmt.Printf("\n=== Audio Input Devices ===\n\n")
	for _, dev := range devices {
		marker := ""
		if dev.IsDefaultInput {
			marker = " (default)"
		}
		fmt.Printf("- %s [%s]%s\n    inputs:%d sample:%.0f Hz latency:%s\n",
			dev.Name, dev.HostAPI, marker, dev.MaxInput, dev.DefaultSampleHz, dev.Latency)
	}
	if dev, err := mic.AutoDetectDevice(); err == nil && dev != nil {
		fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
}

func fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
