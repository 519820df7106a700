// Package app wires the whole bot together: config, logging, storage,
// the wake-up scheduler, both engines, the Telegram adapter and the
// maintenance job.
package app

import (
	"context"
	"strings"
	"time"

	"studybot/internal/config"
	"studybot/internal/maintenance"
	"studybot/internal/roletimer"
	"studybot/internal/storage"
	"studybot/internal/studyplan"
	"studybot/internal/transport/telegram"
	"studybot/internal/wakeup"
	logx "studybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store  *storage.Store
	wake   *wakeup.Scheduler
	timers *roletimer.Service
	plans  *studyplan.Service

	adapter *telegram.Adapter
	maint   *maintenance.Service

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Study.Timezone); tz != "" {
		// validated at config parse time
		loc, _ = time.LoadLocation(tz)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:             cfg.Telegram.Token,
		PollTimeout:       pollTimeout,
		Timezone:          loc,
		Role:              cfg.Study.Role,
		Profiles:          mapProfiles(cfg.Study.Profiles),
		NotifyRate:        cfg.Telegram.NotifyRatePerSec,
		MaxSessionMinutes: cfg.Study.MaxSessionMinutes,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	wake := wakeup.New(log.With(logx.String("comp", "wakeup")))
	timers := roletimer.New(store, adapter, wake, log.With(logx.String("comp", "roletimer")))
	plans := studyplan.New(store, adapter, wake, timers, log.With(logx.String("comp", "studyplan")))
	adapter.AttachEngines(timers, plans)

	maint, err := mapMaintenance(cfg, loc, store, log, timers, plans)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		wake:    wake,
		timers:  timers,
		plans:   plans,
		adapter: adapter,
		maint:   maint,
	}, nil
}

func mapProfiles(in map[string]config.ProfileConfig) map[string]telegram.Profile {
	out := make(map[string]telegram.Profile, len(in))
	for name, p := range in {
		out[name] = telegram.Profile{
			CanSendMessages: p.CanSendMessages,
			CanSendMedia:    p.CanSendMedia,
			CanSendOther:    p.CanSendOther,
			CanAddPreviews:  p.CanAddPreviews,
		}
	}
	return out
}

func mapMaintenance(cfg *config.Config, loc *time.Location, store *storage.Store, log logx.Logger, engines ...maintenance.Engine) (*maintenance.Service, error) {
	mc := cfg.Maintenance
	if mc != nil && mc.Enabled != nil && !*mc.Enabled {
		return nil, nil
	}

	var resyncRaw, cronSpec string
	if mc != nil {
		resyncRaw = mc.ResyncEvery
		cronSpec = mc.CheckpointCron
	}
	resyncEvery, err := config.ParseDurationOrDefault("maintenance.resync_every", resyncRaw, time.Hour)
	if err != nil {
		return nil, err
	}
	return maintenance.New(maintenance.Config{
		ResyncEvery:    resyncEvery,
		CheckpointCron: cronSpec,
		Location:       loc,
	}, store, log.With(logx.String("comp", "maintenance")), engines...), nil
}

// Start brings the bot up. Order matters: expired role timers are
// discharged before schedule bootstrap so a revoke always lands before
// any fresh grant, then the maintenance job and the poller start.
func (a *App) Start(ctx context.Context) error {
	if err := a.timers.InitializeFromStore(ctx); err != nil {
		return err
	}
	if err := a.plans.InitializeFromStore(ctx); err != nil {
		return err
	}

	if a.maint != nil {
		if err := a.maint.Start(); err != nil {
			return err
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancelWatch = cancel
	go a.watchConfig(watchCtx)

	go a.adapter.Start()
	a.log.Info("studybot started")
	return nil
}

// watchConfig applies hot-reloadable settings. Only logging changes
// take effect without a restart; everything else needs a fresh start
// because it is wired into running components.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	a.adapter.Stop()
	if a.maint != nil {
		a.maint.Stop()
	}
	a.wake.Stop()

	err := a.store.Close()
	a.log.Info("studybot stopped")
	_ = a.logs.Close()
	return err
}
