// Package orchestrator consumes findings from every detector, persists them,
// matches them to playbooks and records the intended first action. It decides
// and audits; it never executes commands.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/eventbus"
	"github.com/dannguy1/opmas/internal/knowledge"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/playbook"
	"github.com/dannguy1/opmas/internal/store"
)

// Handler processes one finding at a time. Concurrency-safe; the action
// cooldown map is the only shared mutable state.
type Handler struct {
	store     store.Store
	knowledge *knowledge.Client
	library   *playbook.Library
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger

	cooldown   time.Duration
	mu         sync.Mutex
	lastAction map[string]time.Time
	now        func() time.Time
}

// NewHandler creates a finding handler. knowledge may be nil; finding-state
// tracking is then skipped.
func NewHandler(st store.Store, kn *knowledge.Client, lib *playbook.Library, bus *eventbus.Bus,
	m *metrics.Metrics, cooldown time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		store:      st,
		knowledge:  kn,
		library:    lib,
		bus:        bus,
		metrics:    m,
		logger:     logger,
		cooldown:   cooldown,
		lastAction: make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetClock overrides the handler's clock. Tests only.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// OnFinding runs the full finding pipeline: persist (best-effort), register
// active state (best-effort), look up a playbook, apply the action cooldown,
// render the first step and persist the audit record (hard gate).
//
// An error return means the audit record could not be written; everything
// before that degrades to logs and metrics rather than blocking the finding.
func (h *Handler) OnFinding(ctx context.Context, f *models.Finding) error {
	h.metrics.FindingsReceived.Inc()
	h.logger.Info("finding received",
		zap.String("finding_id", f.FindingID),
		zap.String("finding_type", f.FindingType),
		zap.String("resource_id", f.ResourceID),
		zap.String("severity", string(f.Severity)))

	if err := h.store.SaveFinding(ctx, f); err != nil {
		h.metrics.PersistFailures.WithLabelValues("finding").Inc()
		h.logger.Error("failed to persist finding, continuing",
			zap.String("finding_id", f.FindingID), zap.Error(err))
	}

	if h.knowledge != nil {
		// A recurrence of an already-active pair is worth knowing about;
		// registration still refreshes the mapping to the newest finding.
		if prevID, active, err := h.knowledge.IsActive(ctx, f.FindingType, f.ResourceID); err == nil && active {
			h.logger.Info("finding type already active for resource",
				zap.String("finding_type", f.FindingType),
				zap.String("resource_id", f.ResourceID),
				zap.String("previous_finding_id", prevID))
		}
		if err := h.knowledge.RegisterFinding(ctx, f); err != nil {
			h.logger.Warn("failed to register active finding, continuing",
				zap.String("finding_id", f.FindingID), zap.Error(err))
		}
	}

	pb, ok := h.library.Lookup(f.FindingType)
	if !ok {
		h.logger.Debug("no playbook for finding type",
			zap.String("finding_type", f.FindingType))
		return nil
	}

	// Only the first step is acted on; later steps are carried for external
	// executors that walk the full procedure.
	step := pb.Steps[0]
	cooldownKey := f.ResourceID + "\x00" + step.ActionType

	if !h.tryAcquireAction(cooldownKey) {
		h.metrics.ActionsSuppressed.Inc()
		h.logger.Debug("action suppressed by cooldown",
			zap.String("resource_id", f.ResourceID),
			zap.String("action_type", step.ActionType))
		return nil
	}

	action := models.NewIntendedAction(f.FindingID, step.ID(f.FindingType), step.ActionType)

	rendered, err := playbook.Render(step, f)
	if err != nil {
		// A render failure is itself worth auditing: the flagged record is
		// what makes broken templates visible.
		if !errors.Is(err, playbook.ErrRenderFailed) {
			err = fmt.Errorf("%w: %v", playbook.ErrRenderFailed, err)
		}
		action.RenderFailed = true
		action.FailureReason = err.Error()
		h.metrics.RenderFailures.Inc()
		h.logger.Error("command template failed to render",
			zap.String("finding_id", f.FindingID),
			zap.String("step_id", action.PlaybookStepID),
			zap.Error(err))
	} else {
		action.RenderedCommand = rendered
	}

	if err := h.store.SaveIntendedAction(ctx, action); err != nil {
		// The acquired cooldown slot is released so the action can be retried
		// on the next finding; only a durable record starts the interval.
		h.releaseAction(cooldownKey)
		h.metrics.PersistFailures.WithLabelValues("action").Inc()
		return fmt.Errorf("failed to persist intended action for finding %s: %w", f.FindingID, err)
	}

	h.metrics.ActionsRecorded.Inc()

	h.logger.Info("intended action recorded",
		zap.String("action_id", action.ActionID),
		zap.String("finding_id", f.FindingID),
		zap.String("action_type", action.ActionType),
		zap.Bool("render_failed", action.RenderFailed))

	if h.bus != nil {
		status := models.StatusMessage{
			Kind:      "action",
			FindingID: f.FindingID,
			ActionID:  action.ActionID,
			Note:      action.ActionType,
			Timestamp: h.now(),
		}
		if err := h.bus.Publish(eventbus.SubjectStatus, status); err != nil {
			h.logger.Warn("failed to publish action status", zap.Error(err))
		}
	}

	return nil
}

// OnResolved clears the active-finding state when a resolution arrives on the
// status stream.
func (h *Handler) OnResolved(ctx context.Context, findingID string) {
	if h.knowledge == nil || findingID == "" {
		return
	}
	if err := h.knowledge.MarkResolved(ctx, findingID); err != nil {
		h.logger.Warn("failed to mark finding resolved",
			zap.String("finding_id", findingID), zap.Error(err))
	}
}

// tryAcquireAction atomically checks the cooldown for key and, when the
// action is allowed, starts the interval. Check and start are one critical
// section so two findings handled concurrently cannot both act on the same
// (resource, action type) pair inside a cooldown.
func (h *Handler) tryAcquireAction(key string) bool {
	if h.cooldown <= 0 {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if last, ok := h.lastAction[key]; ok && now.Sub(last) < h.cooldown {
		return false
	}
	h.lastAction[key] = now
	return true
}

// releaseAction undoes a tryAcquireAction whose action never became durable.
// Acquisition only succeeds when no unexpired interval exists, so deleting
// the entry restores the allowed state.
func (h *Handler) releaseAction(key string) {
	if h.cooldown <= 0 {
		return
	}
	h.mu.Lock()
	delete(h.lastAction, key)
	h.mu.Unlock()
}
