package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/hanrai/VoiceShow/internal/audio"
	"github.com/hanrai/VoiceShow/internal/audio/mic"
	"github.com/hanrai/VoiceShow/internal/journal"
	"github.com/hanrai/VoiceShow/internal/observe"
	"github.com/hanrai/VoiceShow/internal/params"
	"github.com/hanrai/VoiceShow/internal/pipeline"
	"github.com/hanrai/VoiceShow/internal/render"
	"github.com/hanrai/VoiceShow/internal/web"
)

// Version is reported in the metrics resource.
var Version = "dev"

const stallTimeout = 3 * time.Second

// restarter is a source that can reopen its stream.
type restarter interface {
	Restart() error
}

// Config configures the application runtime.
type Config struct {
	DeviceName   string
	TargetFPS    float64
	FrameSize    int
	DisableAudio bool
	// Headless skips the terminal meter and the keyboard listener.
	Headless      bool
	ShowStatusBar bool
	UseANSI       bool
	// QueueSize enables a drop-oldest frame queue filled by a separate
	// goroutine; zero polls the source from the render loop.
	QueueSize   int
	Seed        int64
	ProfilePath string
	ListenAddr  string
	JournalPath string
	ParamsPath  string
	Log         *slog.Logger
	// Out receives the meter; defaults to os.Stdout.
	Out io.Writer
}

type inputEvent int

const (
	inputEventReset inputEvent = iota
	inputEventQuit
)

// App ties together the signal source, the session, the terminal meter, the
// HTTP server and the onset journal.
type App struct {
	cfg Config
	log *slog.Logger
	out io.Writer

	session  *pipeline.Session
	source   audio.Source
	queue    *audio.Queue
	meter    *render.Meter
	provider *observe.Provider
	metrics  *observe.Metrics
	journal  *journal.Store
	server   *web.Server
	watcher  *params.Watcher
	profiler *profiler

	mu     sync.RWMutex
	params params.Parameters

	meterCfg     params.Meter
	generation   uint64
	dropped      uint64
	lastFrame    time.Time
	last         time.Time
	width        int
	height       int
	renderHeight int
	deviceLabel  string
	inputEvents  chan inputEvent
}

// New constructs the application using the provided configuration.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 20
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	a := &App{
		cfg:    cfg,
		log:    cfg.Log,
		out:    cfg.Out,
		width:  80,
		height: 24,
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	p := params.Defaults()
	if cfg.ParamsPath != "" {
		w, err := params.NewWatcher(cfg.ParamsPath, a.log)
		if err != nil {
			return nil, err
		}
		a.watcher = w
		p = w.Current()
		w.OnReload(a.reloadParams)
	}
	p = a.override(p)

	session, err := pipeline.New(p.Pipeline())
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	a.session = session
	a.params = p

	a.renderHeight = a.height
	if cfg.ShowStatusBar && a.renderHeight > 1 {
		a.renderHeight--
	}
	meter, err := render.New(a.width, a.renderHeight, p.Meter.Palette, p.Meter.BarWidth, cfg.UseANSI)
	if err != nil {
		return nil, err
	}
	a.meter = meter
	a.meterCfg = p.Meter

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voiceshow",
		ServiceVersion: Version,
	})
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.provider = provider
	a.metrics = provider.Metrics

	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		a.journal = store
		a.log.Info("onset journal opened", "path", cfg.JournalPath)
	}

	if err := a.openSource(); err != nil {
		return nil, err
	}
	a.generation = a.source.Generation()
	if cfg.QueueSize > 0 {
		a.queue = audio.NewQueue(cfg.QueueSize)
	}

	if cfg.ListenAddr != "" {
		srvCfg := web.Config{
			Backend:     a,
			Metrics:     provider.Handler(),
			Instruments: a.metrics,
			Log:         a.log,
		}
		if a.journal != nil {
			srvCfg.Events = a.journal
		}
		a.server = web.NewServer(srvCfg)
	}

	a.profiler = newProfiler(cfg.ProfilePath, a.log)
	a.last = time.Now()
	a.lastFrame = a.last
	ok = true
	return a, nil
}

func (a *App) openSource() error {
	if a.cfg.DisableAudio {
		a.source = audio.NewSynth(audio.SynthConfig{
			FrameSize: a.cfg.FrameSize,
			Seed:      a.cfg.Seed,
		})
		a.log.Info("audio disabled, using synthetic source", "sample_rate", a.source.SampleRate())
		return nil
	}

	capture, err := mic.NewCapture(mic.Config{
		DeviceName: a.cfg.DeviceName,
		FrameSize:  a.cfg.FrameSize,
		Channels:   2,
	})
	if err != nil {
		return fmt.Errorf("audio capture: %w", err)
	}
	a.source = capture
	if info := capture.Device(); info != nil {
		a.deviceLabel = info.Name
		a.log.Info("audio capture started", "device", info.Name, "sample_rate", capture.SampleRate())
	} else {
		a.log.Info("audio capture started", "sample_rate", capture.SampleRate())
	}
	return nil
}

// override applies command-line settings on top of file parameters.
func (a *App) override(p params.Parameters) params.Parameters {
	if a.cfg.Seed != 0 {
		p.Cluster.Seed = uint64(a.cfg.Seed)
	}
	return p
}

// Run drives the loop together with the HTTP server, the params watcher and
// the frame pump until ctx is cancelled or the user quits.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gctx, a.cfg.ListenAddr)
		})
	}
	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}
	if a.queue != nil {
		g.Go(func() error {
			err := audio.Pump(gctx, a.source, a.queue, a.frameInterval())
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		defer cancel()
		return a.loop(gctx)
	})
	return g.Wait()
}

func (a *App) loop(ctx context.Context) error {
	frameDuration := time.Duration(float64(time.Second) / a.cfg.TargetFPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	if !a.cfg.Headless {
		enterAltScreen(a.out)
		clearScreen(a.out)
		hideCursor(a.out)
		defer func() {
			showCursor(a.out)
			exitAltScreen(a.out)
		}()
		a.startInputListener(ctx)
		a.ensureDimensions()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			switch evt {
			case inputEventReset:
				a.Reset()
			case inputEventQuit:
				moveCursorHome(a.out)
				return nil
			}
		case <-ticker.C:
			a.step(ctx)
		}
	}
}

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	if a.source != nil {
		errs = append(errs, a.source.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, a.provider.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, a.profiler.Close())
	return errors.Join(errs...)
}

func (a *App) frameInterval() time.Duration {
	sr := a.source.SampleRate()
	size := a.cfg.FrameSize
	if size <= 0 {
		size = 2048
	}
	if sr <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(float64(size) / sr * float64(time.Second))
}

// step processes every pending frame, then redraws the meter.
func (a *App) step(ctx context.Context) {
	a.profiler.beginFrame()

	now := time.Now()
	delta := now.Sub(a.last).Seconds()
	if delta <= 0 {
		delta = 1.0 / a.cfg.TargetFPS
	}
	a.last = now

	a.checkStall(now)
	a.checkGeneration(ctx)
	if a.queue != nil {
		for {
			f, ok := a.queue.TryPop()
			if !ok {
				break
			}
			a.process(ctx, f)
		}
		if d := a.queue.Dropped(); d > a.dropped {
			a.metrics.RecordDropped(ctx, d-a.dropped)
			a.dropped = d
		}
	} else if f, ok := a.source.Frame(); ok {
		a.process(ctx, f)
	}
	a.profiler.mark("process")

	if !a.cfg.Headless {
		a.draw(1.0 / delta)
		a.profiler.mark("render")
	}
	a.profiler.endFrame()
}

// checkGeneration resets the session when the source restarted so frames
// from the old stream never mix with the new one.
func (a *App) checkGeneration(ctx context.Context) {
	gen := a.source.Generation()
	if gen == a.generation {
		return
	}
	a.log.Info("audio source restarted", "generation", gen)
	a.generation = gen
	if a.queue != nil {
		a.queue.Drain()
	}
	a.session.Reset()
	a.metrics.RecordRestart(ctx)
}

// checkStall restarts a source that has stopped delivering fresh frames.
func (a *App) checkStall(now time.Time) {
	r, ok := a.source.(restarter)
	if !ok || now.Sub(a.lastFrame) < stallTimeout {
		return
	}
	a.log.Warn("audio source stalled, restarting", "idle", now.Sub(a.lastFrame).Round(time.Millisecond))
	a.lastFrame = now
	if err := r.Restart(); err != nil {
		a.log.Error("audio restart failed", "err", err)
	}
}

func (a *App) process(ctx context.Context, f audio.Frame) {
	start := time.Now()
	a.lastFrame = start
	res := a.session.Process(f)
	a.metrics.RecordResult(ctx, res, time.Since(start))
	if res.Err != nil {
		a.log.Debug("frame not classified", "err", res.Err)
	}
	if !res.Onset || a.journal == nil {
		return
	}
	if _, err := a.journal.Record(ctx, a.session.ID(), res.Event); err != nil {
		a.log.Warn("journal write failed", "err", err)
	}
}

func (a *App) draw(fps float64) {
	a.ensureDimensions()
	if m := a.Params().Meter; m != a.meterCfg {
		a.meter.Configure(m.Palette, m.BarWidth)
		a.meterCfg = m
	}

	frame := a.meter.Render(a.session.Latest(), fps)
	status := frame.Status
	if a.deviceLabel != "" {
		status = status + " | mic=" + a.deviceLabel
	}

	var b strings.Builder
	for _, line := range frame.Lines {
		b.WriteString(line)
		b.WriteString("\x1b[K\n")
	}
	if a.cfg.ShowStatusBar {
		b.WriteString(statusBar(status, a.width))
		b.WriteByte('\n')
	}
	moveCursorHome(a.out)
	io.WriteString(a.out, b.String())
}

func (a *App) ensureDimensions() {
	fd := int(os.Stdout.Fd())
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return
	}

	renderHeight := h
	if a.cfg.ShowStatusBar && renderHeight > 1 {
		renderHeight--
	}
	if w == a.width && h == a.height && renderHeight == a.renderHeight {
		return
	}
	a.width = w
	a.height = h
	a.renderHeight = renderHeight
	a.meter.Resize(w, renderHeight)
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Warn("keyboard input disabled", "err", err)
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			switch {
			case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
				events <- inputEventQuit
				return
			case char == 'q' || char == 'Q':
				events <- inputEventQuit
				return
			case char == 'r' || char == 'R':
				select {
				case events <- inputEventReset:
				default:
				}
			}
		}
	}()
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	if len(text) >= width {
		return text[:width]
	}
	return text + strings.Repeat(" ", width-len(text))
}

func clearScreen(w io.Writer) {
	io.WriteString(w, "\x1b[2J")
	moveCursorHome(w)
}

func moveCursorHome(w io.Writer) { io.WriteString(w, "\x1b[H") }
func hideCursor(w io.Writer)     { io.WriteString(w, "\x1b[?25l") }
func showCursor(w io.Writer)     { io.WriteString(w, "\x1b[?25h") }
func enterAltScreen(w io.Writer) { io.WriteString(w, "\x1b[?1049h") }
func exitAltScreen(w io.Writer)  { io.WriteString(w, "\x1b[?1049l\x1b[0m") }
