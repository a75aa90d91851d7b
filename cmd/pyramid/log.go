package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
	"github.com/tingold/pyramid/internal/config"
)

// newLogger writes to the terminal and, when a directory is configured, to
// one file per day. level overrides the configured level when set.
func newLogger(cfg config.Log, level string, terminal io.Writer) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(&nested.Formatter{
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	var outputs []io.Writer
	var closer io.Closer = io.NopCloser(nil)
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := filepath.Join(cfg.Dir, time.Now().Format("2006-01-02.log"))
		f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		outputs = append(outputs, f)
		closer = f
	}
	if cfg.Terminal {
		outputs = append(outputs, terminal)
	}
	log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(outputs...)))

	if level == "" {
		level = cfg.Level
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	log.SetLevel(lvl)
	return log, closer, nil
}
