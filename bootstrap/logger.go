package bootstrap

import (
	"io"
	"sync"
	"time"

	"github.com/artpar/livesync/config"
	"github.com/rs/zerolog"
)

// logOutput lets a config reload switch between json and console output
// without rebuilding every logger derived from the root one.
type logOutput struct {
	mu     sync.RWMutex
	out    io.Writer
	target io.Writer
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.RLock()
	w := o.target
	o.mu.RUnlock()
	return w.Write(p)
}

func (o *logOutput) apply(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var target io.Writer = o.out
	if cfg.Format == "console" {
		target = zerolog.ConsoleWriter{Out: o.out, TimeFormat: time.RFC3339}
	}

	o.mu.Lock()
	o.target = target
	o.mu.Unlock()
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, *logOutput) {
	o := &logOutput{out: out, target: out}
	o.apply(cfg)
	return zerolog.New(o).With().Timestamp().Logger(), o
}
