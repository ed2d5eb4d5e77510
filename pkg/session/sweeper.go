package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/convo/pkg/logger"
)

// DefaultSweepCron runs the expiry sweep once a minute.
const DefaultSweepCron = "* * * * *"

// Sweeper periodically ends sessions whose idle timeout elapsed without
// their per-session timer firing. The schedule is a cron expression so
// deployments can tune sweep pressure without code changes.
type Sweeper struct {
	manager *Manager
	expr    string
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

func NewSweeper(manager *Manager, cronExpr string) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = DefaultSweepCron
	}
	if !gronx.New().IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid sweep cron expression %q", cronExpr)
	}
	return &Sweeper{
		manager: manager,
		expr:    cronExpr,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(sweepCtx)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		if s.done != nil {
			close(s.done)
		}
		s.mu.Unlock()
	}()

	for {
		next, err := gronx.NextTickAfter(s.expr, time.Now(), false)
		if err != nil {
			logger.ErrorCF("sweeper", "Failed to compute next sweep tick", map[string]interface{}{
				"expr":  s.expr,
				"error": err.Error(),
			})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.InfoC("sweeper", "Expiry sweep stopping")
			return
		case <-timer.C:
		}

		removed := s.manager.CleanupExpired()
		if removed > 0 {
			logger.InfoCF("sweeper", "Ended idle sessions", map[string]interface{}{
				"removed": removed,
			})
		}
	}
}
