// Package maintenance runs the background repair jobs: a periodic
// engine resync that re-walks durable state (healing any wake-up that
// was lost to a bug or a clock jump) and a nightly sqlite WAL
// checkpoint.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"studybot/internal/storage"
	logx "studybot/pkg/logx"
)

// Engine is the part of a scheduling engine the repair job needs.
// Both roletimer.Service and studyplan.Service satisfy it.
type Engine interface {
	Resync(ctx context.Context) (int, error)
}

type Config struct {
	ResyncEvery    time.Duration // default 1h
	CheckpointCron string        // default "0 4 * * *"
	Location       *time.Location
	JobTimeout     time.Duration // default 1m
}

type Service struct {
	cfg     Config
	log     logx.Logger
	store   *storage.Store
	engines []Engine

	c *cron.Cron
}

func New(cfg Config, store *storage.Store, log logx.Logger, engines ...Engine) *Service {
	if cfg.ResyncEvery <= 0 {
		cfg.ResyncEvery = time.Hour
	}
	if cfg.CheckpointCron == "" {
		cfg.CheckpointCron = "0 4 * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, store: store, engines: engines}
}

func (s *Service) Start() error {
	s.c = cron.New(cron.WithLocation(s.cfg.Location))

	if _, err := s.c.AddFunc("@every "+s.cfg.ResyncEvery.String(), s.resyncAll); err != nil {
		return err
	}
	if _, err := s.c.AddFunc(s.cfg.CheckpointCron, s.checkpoint); err != nil {
		return err
	}

	s.c.Start()
	s.log.Info("maintenance started",
		logx.Duration("resync_every", s.cfg.ResyncEvery),
		logx.String("checkpoint_cron", s.cfg.CheckpointCron))
	return nil
}

func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("maintenance stopped")
}

// resyncAll re-walks each engine's durable state. One engine failing
// does not stop the others; the next tick retries.
func (s *Service) resyncAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	for _, e := range s.engines {
		n, err := e.Resync(ctx)
		if err != nil {
			s.log.Warn("periodic resync failed", logx.Err(err))
			continue
		}
		s.log.Debug("periodic resync done", logx.Int("entries", n))
	}
}

func (s *Service) checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	if err := s.store.Checkpoint(ctx); err != nil {
		s.log.Warn("wal checkpoint failed", logx.Err(err))
		return
	}
	s.log.Debug("wal checkpoint done")
}
