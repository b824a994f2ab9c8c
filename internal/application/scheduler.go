package application

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one step of a sync loop. RunOnce reports whether it handled work,
// in which case the scheduler runs it again without waiting.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) (bool, error)
}

type Scheduler struct {
	log       *zap.Logger
	job       Job
	pauseFile string

	mu    sync.RWMutex
	every time.Duration
}

func NewScheduler(l *zap.Logger, job Job, every time.Duration, pauseFile string) *Scheduler {
	return &Scheduler{
		log: l.With(zap.String("job", job.Name())), job: job, every: every, pauseFile: pauseFile,
	}
}

func (s *Scheduler) UpdateInterval(every time.Duration) {
	if every <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.every = every
	s.log.Info("poll interval updated", zap.Duration("every", every))
}

func (s *Scheduler) interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.every
}

func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if s.tick(ctx) {
			continue
		}

		t := time.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) bool {
	if s.isPaused() {
		s.log.Debug("paused: skipping tick")
		return false
	}

	busy, err := s.job.RunOnce(ctx)
	if err != nil {
		s.log.Warn("tick failed", zap.Error(err))
		return false
	}
	return busy
}

func (s *Scheduler) isPaused() bool {
	if s.pauseFile == "" {
		return false
	}
	_, err := os.Stat(s.pauseFile)
	return err == nil
}
