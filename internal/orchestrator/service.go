package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/eventbus"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/playbook"
	"github.com/dannguy1/opmas/internal/store"
)

const handleTimeout = 15 * time.Second

// Service wires the finding handler to the bus. Instances of the service
// share the orchestrator queue group, so findings are load-balanced across
// replicas without duplicate action records.
type Service struct {
	handler *Handler
	bus     *eventbus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	subs []*nats.Subscription
}

// NewService creates the orchestrator service around a prepared handler.
func NewService(handler *Handler, bus *eventbus.Bus, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{handler: handler, bus: bus, metrics: m, logger: logger}
}

// SyncPlaybooks persists the loaded playbook library so operators can inspect
// the active procedures in the database. Best-effort.
func (s *Service) SyncPlaybooks(ctx context.Context, st store.Store, lib *playbook.Library) {
	for _, pb := range lib.All() {
		if err := st.SavePlaybook(ctx, pb); err != nil {
			s.metrics.PersistFailures.WithLabelValues("playbook").Inc()
			s.logger.Warn("failed to persist playbook",
				zap.String("finding_type", pb.FindingType), zap.Error(err))
		}
	}
}

// Start subscribes to the findings wildcard and the status stream.
func (s *Service) Start() error {
	sub, err := s.bus.QueueSubscribe(eventbus.FindingsWildcard, eventbus.OrchestratorQueue, s.handleFinding)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	sub, err = s.bus.Subscribe(eventbus.SubjectStatus, s.handleStatus)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	s.logger.Info("orchestrator started")
	return nil
}

// Stop unsubscribes. The bus connection is drained by the caller.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.logger.Info("orchestrator stopped")
}

func (s *Service) handleFinding(msg *nats.Msg) {
	var f models.Finding
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		s.logger.Warn("dropping malformed finding", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := s.handler.OnFinding(ctx, &f); err != nil {
		s.logger.Error("finding processing aborted",
			zap.String("finding_id", f.FindingID), zap.Error(err))
	}
}

func (s *Service) handleStatus(msg *nats.Msg) {
	var status models.StatusMessage
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		return
	}
	if status.Kind != "resolved" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	s.handler.OnResolved(ctx, status.FindingID)
}
