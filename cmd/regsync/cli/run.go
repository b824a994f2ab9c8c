package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davarch/regsync/internal/application"
	"github.com/davarch/regsync/internal/infrastructure/config"
	"github.com/davarch/regsync/internal/infrastructure/logging"
	"github.com/davarch/regsync/internal/infrastructure/metrics"
	"github.com/davarch/regsync/internal/infrastructure/status_fs"
)

const (
	componentListener    = "listener"
	componentProcessor   = "processor"
	componentTransmitter = "transmitter"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sync loops",
}

func init() {
	for _, c := range []struct {
		use, short string
		components []string
	}{
		{componentListener, "Poll registry change notifications and publish them to the event queue", []string{componentListener}},
		{componentProcessor, "Apply registry changes to pipeline versions", []string{componentProcessor}},
		{componentTransmitter, "Push pipeline version events into the registry table", []string{componentTransmitter}},
		{"all", "Run listener, processor and transmitter in one process", []string{componentListener, componentProcessor, componentTransmitter}},
	} {
		components := c.components
		runCmd.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLoops(cmd.Context(), components)
			},
		})
	}

	rootCmd.AddCommand(runCmd)
}

type loop struct {
	sched *application.Scheduler
	run   func(ctx context.Context) error
}

func runLoops(parent context.Context, components []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	live := config.NewLive(cfg)
	status := status_fs.New(cfg.Status.Dir)
	m := metrics.New()

	var loops []loop
	for _, name := range components {
		l, err := buildLoop(ctx, log, cfg, live, status, m, name)
		if err != nil {
			log.Error("startup failed", zap.String("component", name), zap.Error(err))
			return err
		}
		loops = append(loops, l)
	}

	if err := config.Watch(ctx, cfgPath, log, func(c config.Config) {
		live.Store(c)
		for _, l := range loops {
			l.sched.UpdateInterval(live.PollInterval())
		}
	}); err != nil {
		log.Warn("config watch disabled", zap.Error(err))
	}

	log.Info("start",
		zap.String("version", version),
		zap.Strings("components", components),
		zap.Duration("every", cfg.Poll.Interval),
		zap.String("pipeline", cfg.Pipeline.ServerURL),
		zap.String("base", cfg.Registry.BaseName),
		zap.String("status_dir", cfg.Status.Dir),
		zap.String("pause_file", cfg.Poll.PauseFile),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		l := l
		g.Go(func() error { return l.run(gctx) })
	}
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Listen, log) })
	}

	err = g.Wait()
	log.Info("stopped", zap.Error(err))
	return err
}

func buildLoop(
	ctx context.Context,
	log *zap.Logger,
	cfg config.Config,
	live *config.Live,
	status *status_fs.Dir,
	m *metrics.Metrics,
	component string,
) (loop, error) {
	pipe := newPipeline(cfg, component)
	reg, info, err := newRegistry(ctx, cfg, pipe)
	if err != nil {
		return loop{}, err
	}
	log.Info("registry token verified", zap.String("component", component), zap.String("user", info.UserID))

	sender := cfg.Pipeline.ServiceName + "-" + component

	switch component {
	case componentListener:
		l := application.NewListener(log, reg, pipe, status, m, application.ListenerConfig{
			BaseName:        cfg.Registry.BaseName,
			NotificationURL: cfg.Registry.NotificationURL,
			Topic:           cfg.Topics.Change,
		})
		sched := application.NewScheduler(log, l, cfg.Poll.Interval, cfg.Poll.PauseFile)
		return loop{
			sched: sched,
			run: func(ctx context.Context) error {
				return l.Serve(ctx, sched.Run)
			},
		}, nil

	case componentProcessor:
		p := application.NewProcessor(log, reg, pipe, pipe, live, status, m, application.ProcessorConfig{
			SourceTopic:    cfg.Topics.Change,
			TargetTopic:    cfg.Topics.Process,
			Sender:         sender,
			MaxRetries:     cfg.Poll.MaxRetries,
			StatusCacheTTL: cfg.Pipeline.StatusCacheTTL,
		})
		sched := application.NewScheduler(log, p, cfg.Poll.Interval, cfg.Poll.PauseFile)
		return loop{sched: sched, run: runScheduler(sched)}, nil

	case componentTransmitter:
		base, err := resolveBase(ctx, reg, cfg.Registry.BaseName)
		if err != nil {
			return loop{}, err
		}
		t := application.NewTransmitter(log, reg, pipe, pipe, live, status, m, application.TransmitterConfig{
			CreatedTopic:       cfg.Topics.Created,
			StatusChangedTopic: cfg.Topics.StatusChanged,
			TargetTopic:        cfg.Topics.Push,
			Sender:             sender,
			SenderType:         cfg.Pipeline.SenderType,
			MaxRetries:         cfg.Poll.MaxRetries,
			BaseID:             base.ID,
			Table:              cfg.Registry.TableName,
			ExtraTaskTypes:     cfg.Registry.ExtraTaskTypes,
		})
		sched := application.NewScheduler(log, t, cfg.Poll.Interval, cfg.Poll.PauseFile)
		return loop{sched: sched, run: runScheduler(sched)}, nil
	}

	return loop{}, fmt.Errorf("unknown component %q", component)
}

func runScheduler(s *application.Scheduler) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		s.Run(ctx)
		return nil
	}
}
