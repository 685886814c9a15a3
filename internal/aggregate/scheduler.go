package aggregate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/scanloop"
	"github.com/mybrohigh/Xpert/internal/store"
)

// refreshJitter spreads the direct-config refresh loop so restarts of
// several panels do not align their probes.
const refreshJitter = 30 * time.Second

// SchedulerConfig configures the background cadences.
type SchedulerConfig struct {
	Orchestrator *Orchestrator
	Direct       *store.DirectConfigStore

	// TickInterval is the aggregation cadence. A tick that fires while
	// the previous one still runs is dropped.
	TickInterval time.Duration
	// RefreshInterval is the direct-config re-probe cadence. The store's
	// own throttle still applies on top.
	RefreshInterval time.Duration
}

// Scheduler owns the aggregation tick and the direct-config refresh
// loop.
type Scheduler struct {
	cfg SchedulerConfig

	cron    *cron.Cron
	lifeCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	done    chan struct{}
}

// NewScheduler builds the scheduler around an orchestrator.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	lifeCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg: cfg,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		lifeCtx: lifeCtx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start registers the cron entries and launches the refresh loop.
func (s *Scheduler) Start() error {
	if s.cfg.TickInterval > 0 {
		spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
		if _, err := s.cron.AddFunc(spec, s.runTick); err != nil {
			return fmt.Errorf("aggregate: schedule tick: %w", err)
		}
	}
	s.cron.Start()

	go func() {
		defer close(s.done)
		if s.cfg.Direct == nil || s.cfg.RefreshInterval <= 0 {
			return
		}
		scanloop.Run(s.stopCh, s.cfg.RefreshInterval, refreshJitter, s.runRefresh)
	}()
	return nil
}

// Stop halts the cron scheduler, cancels any in-flight tick, and waits
// for the refresh loop to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopCh)
	ctx := s.cron.Stop()
	<-ctx.Done()
	<-s.done
}

func (s *Scheduler) runTick() {
	result, err := s.cfg.Orchestrator.Tick(s.lifeCtx)
	if err != nil {
		log.Printf("[aggregate] tick failed after %s: %v", result.Duration, err)
		return
	}
	log.Printf("[aggregate] tick done in %s: %d sources, %d configs (%d active), changed=%t",
		result.Duration, result.Sources, result.TotalConfigs, result.ActiveConfigs, result.Changed)
	for _, msg := range result.Errors {
		log.Printf("[aggregate] tick: %s", msg)
	}
}

func (s *Scheduler) runRefresh() {
	refreshed, err := s.cfg.Direct.RefreshAllPings(false, func(cfg model.DirectConfig) (float64, bool) {
		return s.cfg.Orchestrator.ProbeDirect(s.lifeCtx, cfg)
	})
	if err != nil {
		log.Printf("[aggregate] direct-config refresh failed: %v", err)
		return
	}
	if refreshed {
		log.Printf("[aggregate] direct-config pings refreshed")
	}
}
