package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

// Runner is the part of the orchestrator the scheduler drives
type Runner interface {
	RunAll(ctx context.Context) error
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

// CommandQueue is the control channel used by the CLI to reach a running daemon
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type Scheduler struct {
	cfg          config.SchedulerConfig
	runner       Runner
	queue        CommandQueue
	logger       *zap.Logger
	cron         *cron.Cron
	ticker       *time.Ticker
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once

	// serializes scheduled passes so a slow pass is skipped, not stacked
	running sync.Mutex
}

func New(cfg config.SchedulerConfig, runner Runner, queue CommandQueue, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		queue:        queue,
		logger:       logger.With(zap.String("component", "scheduler")),
		cron:         cron.New(),
		pollInterval: 2 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron != "" {
		s.logger.Info("starting scheduler", zap.String("cron", s.cfg.Cron))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.runScheduled(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.logger.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runScheduled(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.logger.Info("no schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("previous pass still running, skipping scheduled run")
		return
	}
	defer s.running.Unlock()

	if err := s.runner.RunAll(ctx); err != nil {
		s.logger.Error("scheduled run finished with errors", zap.Error(err))
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		s.logger.Error("failed to read commands", zap.Error(err))
		return
	}

	for _, cmd := range cmds {
		s.logger.Info("processing command", zap.String("command", string(cmd.Command)), zap.Int64("id", cmd.ID))
		if err := s.runner.HandleCommand(ctx, &cmd); err != nil {
			s.logger.Error("command failed", zap.String("command", string(cmd.Command)), zap.Error(err))
		}
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			s.logger.Error("failed to mark command processed", zap.Int64("id", cmd.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.runner.RunAll(ctx)
}
