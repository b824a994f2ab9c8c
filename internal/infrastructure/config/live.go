package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/davarch/regsync/internal/domain"
)

const reloadDebounce = 300 * time.Millisecond

// Live holds the hot-reloadable part of the configuration.
type Live struct {
	fields   atomic.Pointer[domain.FieldMap]
	interval atomic.Int64
}

func NewLive(c Config) *Live {
	l := &Live{}
	l.Store(c)
	return l
}

func (l *Live) Store(c Config) {
	fm := c.Fields
	l.fields.Store(&fm)
	l.interval.Store(int64(c.Poll.Interval))
}

func (l *Live) FieldMap() domain.FieldMap { return *l.fields.Load() }

func (l *Live) PollInterval() time.Duration { return time.Duration(l.interval.Load()) }

// Watch reloads path on every write and calls onChange with the new config.
// It returns once the watcher is set up; the watch ends with ctx.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(Config)) error {
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	fire := func() {
		c, err := Load(path)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("path", path))
		onChange(c)
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(reloadDebounce, fire)
				} else {
					timer.Reset(reloadDebounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()

	return nil
}
