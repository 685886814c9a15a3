package auditlog

import (
	"log"
	"sync"
	"time"

	"github.com/mybrohigh/Xpert/internal/model"
)

// Service provides an async audit writer. Emit performs a non-blocking
// channel send (drops on overflow); a background goroutine flushes
// batches to the Repo.
type Service struct {
	repo      *Repo
	queue     chan model.AdminAction
	batchSize int
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ServiceConfig configures the audit service.
type ServiceConfig struct {
	Repo          *Repo
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

// NewService creates a new audit service.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 64
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Service{
		repo:      cfg.Repo,
		queue:     make(chan model.AdminAction, queueSize),
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Stop signals the flush loop to stop, drains remaining entries, and
// returns.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Emit enqueues one admin action. Non-blocking; drops on overflow. A
// missing timestamp is stamped here so callers can pass literals.
func (s *Service) Emit(action model.AdminAction) {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	select {
	case s.queue <- action:
	default:
		// Queue full. Audit is best-effort; never block a mutation.
	}
}

// Repo returns the underlying repository for query access.
func (s *Service) Repo() *Repo {
	return s.repo
}

// flushLoop runs until stopCh is closed, flushing on batch-size or timer.
func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]model.AdminAction, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case action := <-s.queue:
			batch = append(batch, action)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			s.drainAndFlush(batch)
			return
		}
	}
}

func (s *Service) drainAndFlush(batch []model.AdminAction) {
	for {
		select {
		case action := <-s.queue:
			batch = append(batch, action)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) flush(entries []model.AdminAction) {
	if _, err := s.repo.InsertBatch(entries); err != nil {
		log.Printf("[auditlog] flush %d entries failed: %v", len(entries), err)
	}
}

func nsToTime(ns int64) (t time.Time) {
	return time.Unix(0, ns).UTC()
}
