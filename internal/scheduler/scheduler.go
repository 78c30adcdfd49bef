// Package scheduler periodically sweeps sessions and nudges users whose
// pending question has gone unanswered. It never mutates session state; its
// only output is synthetic events submitted through ingress.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/dialog"
	kotoriErrors "github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/ingress"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// SessionReader is the read-only slice of the store the sweep walks.
type SessionReader interface {
	ListSessions() ([]string, error)
	LoadSession(userID string) (*dialog.Session, error)
}

type IngressSubmitter interface {
	Submit(ctx context.Context, evt *ingress.Event) error
}

type Scheduler struct {
	sessions SessionReader
	ingress  IngressSubmitter

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	cron    *cron.Cron

	// nudged maps user ID to the LastUpdatedAt already re-prompted, so each
	// pending question produces at most one nudge.
	nudged map[string]time.Time

	sweepSchedule   string
	idlePromptTTL   time.Duration
	shutdownTimeout time.Duration
}

func NewScheduler(sessions SessionReader, ingressSubmit IngressSubmitter, cfg config.SchedulerConfig) (*Scheduler, error) {
	idlePromptTTL, err := config.DurationOrDefault(cfg.IdlePromptTTL, config.DefaultSchedulerIdlePromptTTL)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler idle prompt ttl: %w", err)
	}

	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler shutdown timeout: %w", err)
	}

	sweepSchedule := cfg.SweepSchedule
	if sweepSchedule == "" {
		sweepSchedule = config.DefaultSchedulerSweepSchedule
	}

	return &Scheduler{
		sessions:        sessions,
		ingress:         ingressSubmit,
		nudged:          make(map[string]time.Time),
		sweepSchedule:   sweepSchedule,
		idlePromptTTL:   idlePromptTTL,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	slog.Info("Scheduler initialized", "sweep", s.sweepSchedule, "idle_ttl", s.idlePromptTTL)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.sweepSchedule, func() { s.Sweep(s.ctx) }); err != nil {
		return kotoriErrors.Wrap(err, "invalid sweep schedule")
	}
	s.cron.Start()
	s.running = true

	slog.Info("Scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cronStop := s.cron.Stop()
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-cronStop.Done():
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, force stopping")
		return kotoriErrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	if s.ctx == nil {
		return kotoriErrors.Internal("scheduler not initialized")
	}

	if !s.IsRunning() {
		return kotoriErrors.Internal("scheduler not running")
	}

	if _, err := s.sessions.ListSessions(); err != nil {
		return fmt.Errorf("list sessions: %w", kotoriErrors.ErrTransient)
	}

	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Sweep walks every session once and submits a nudge for each that has been
// awaiting a reply for longer than the idle TTL.
func (s *Scheduler) Sweep(ctx context.Context) {
	userIDs, err := s.sessions.ListSessions()
	if err != nil {
		slog.Error("Sweep failed to list sessions", "error", err)
		return
	}

	now := time.Now()
	nudgedCount := 0

	for _, userID := range userIDs {
		sess, err := s.sessions.LoadSession(userID)
		if err != nil {
			slog.Warn("Sweep failed to load session", "user", userID, "error", err)
			continue
		}
		if sess == nil || !sess.State.Awaiting() {
			s.forget(userID)
			continue
		}

		if now.Sub(sess.LastUpdatedAt) < s.idlePromptTTL {
			continue
		}
		if s.alreadyNudged(userID, sess.LastUpdatedAt) {
			continue
		}

		// ListSessions yields sanitized file names; the record itself holds
		// the routable "<source>:<id>" form.
		targetID := sess.UserID
		if targetID == "" {
			targetID = userID
		}

		evt := &ingress.Event{
			ID:      ulid.Make().String(),
			Source:  "scheduler",
			UserID:  targetID,
			Type:    ingress.TypeNudge,
			Content: "idle session re-prompt",
			Metadata: map[string]string{
				"idle_since": sess.LastUpdatedAt.Format(time.RFC3339),
			},
			CreatedAt: now,
		}

		if err := s.ingress.Submit(ctx, evt); err != nil {
			slog.Warn("Failed to submit nudge", "user", userID, "error", err)
			continue
		}

		s.markNudged(userID, sess.LastUpdatedAt)
		nudgedCount++
	}

	if nudgedCount > 0 {
		slog.Info("Sweep nudged idle sessions", "count", nudgedCount)
	}
}

func (s *Scheduler) alreadyNudged(userID string, lastUpdatedAt time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.nudged[userID]
	return ok && at.Equal(lastUpdatedAt)
}

func (s *Scheduler) markNudged(userID string, lastUpdatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nudged[userID] = lastUpdatedAt
}

func (s *Scheduler) forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nudged, userID)
}
