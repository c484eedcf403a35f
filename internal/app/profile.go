package app

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// profiler appends per-stage timings of the render loop to a CSV file.
// A nil *profiler is valid and records nothing.
type profiler struct {
	mu     sync.Mutex
	file   *os.File
	log    *slog.Logger
	frame  uint64
	start  time.Time
	last   time.Time
	total  time.Duration
	frames uint64
}

func newProfiler(path string, log *slog.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn("profiler disabled", "path", path, "err", err)
		return nil
	}
	p := &profiler{file: f, log: log}
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		fmt.Fprintln(f, "timestamp,frame,stage,ms")
	}
	return p
}

func (p *profiler) beginFrame() {
	if p == nil {
		return
	}
	now := time.Now()
	p.frame++
	p.start = now
	p.last = now
}

// mark records the time spent since the previous mark under stage.
func (p *profiler) mark(stage string) {
	if p == nil {
		return
	}
	now := time.Now()
	p.write(stage, now.Sub(p.last))
	p.last = now
}

func (p *profiler) endFrame() {
	if p == nil {
		return
	}
	took := time.Since(p.start)
	p.total += took
	p.frames++
	p.write("total", took)
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	if p.frames > 0 {
		p.log.Info("profile written",
			"path", p.file.Name(),
			"frames", p.frames,
			"avg_ms", float64(p.total.Microseconds())/float64(p.frames)/1000)
	}
	return p.file.Close()
}

func (p *profiler) write(stage string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	fmt.Fprintf(p.file, "%s,%d,%s,%.3f\n",
		time.Now().Format(time.RFC3339Nano), p.frame, stage, float64(d.Microseconds())/1000)
}
