// Package detector is the generic domain detector service: it consumes
// normalized events for one domain from the bus, runs every catalog rule
// through the sliding-window evaluator and publishes findings. Domains
// differ only by their Profile.
package detector

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/config"
	"github.com/dannguy1/opmas/internal/engine"
	"github.com/dannguy1/opmas/internal/eventbus"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/normalizer"
	"github.com/dannguy1/opmas/internal/rules"
	"github.com/dannguy1/opmas/internal/store"
)

const (
	cooldownCacheSize = 4096
	maxCooldownTTL    = time.Hour
	windowMaxAge      = 30 * time.Minute
)

// Service is one running detector process.
type Service struct {
	cfg     *config.Detector
	profile *Profile
	bus     *eventbus.Bus
	store   store.Store
	catalog *rules.Catalog
	windows *engine.WindowStore
	eval    *engine.Evaluator
	norm    *normalizer.Normalizer
	metrics *metrics.Metrics
	logger  *zap.Logger

	startedAt       time.Time
	eventsSeen      atomic.Uint64
	findingsEmitted atomic.Uint64
	eventsDropped   atomic.Uint64

	subs []*nats.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a detector for the configured domain. Rules are seeded in
// layers: the domain profile's defaults, then RULES_DIR overlays, then
// operator patterns from DEFAULT_PATTERNS, then persisted rules when a store
// is available. st may be nil.
func New(cfg *config.Detector, bus *eventbus.Bus, st store.Store, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	profile, err := LookupProfile(cfg.Domain)
	if err != nil {
		return nil, err
	}

	catalog := rules.NewCatalog()
	for _, def := range profile.Defaults {
		rule, err := rules.Compile(def)
		if err != nil {
			return nil, fmt.Errorf("bad built-in rule %s: %w", def.Name, err)
		}
		catalog.Seed(rule)
	}

	if cfg.RulesDir != "" {
		if _, err := os.Stat(cfg.RulesDir); err == nil {
			n, err := rules.LoadDir(catalog, cfg.RulesDir, cfg.Domain, logger)
			if err != nil {
				return nil, err
			}
			logger.Info("rules loaded from dir", zap.String("dir", cfg.RulesDir), zap.Int("count", n))
		}
	}

	if cfg.DefaultPatterns != "" {
		n := rules.SeedFromPatterns(catalog, cfg.DefaultPatterns, logger)
		logger.Info("operator patterns seeded", zap.Int("count", n))
	}

	if st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defs, err := st.ListRules(ctx, cfg.Domain)
		cancel()
		if err != nil {
			logger.Warn("failed to load persisted rules, continuing without", zap.Error(err))
		} else {
			applied := 0
			for _, def := range defs {
				if _, getErr := catalog.Get(def.Name); getErr == nil {
					err = catalog.Update(def.Name, def)
				} else {
					err = catalog.Add(def)
				}
				if err != nil {
					logger.Error("skipping bad persisted rule", zap.String("rule", def.Name), zap.Error(err))
					continue
				}
				applied++
			}
			logger.Info("persisted rules applied", zap.Int("count", applied))
		}
	}

	windows := engine.NewWindowStore(windowMaxAge)
	cooldowns := engine.NewCooldownTracker(cooldownCacheSize, maxCooldownTTL)
	eval := engine.NewEvaluator(cfg.AgentName, windows, cooldowns, logger)
	eval.OnSuppressed(func(string) { m.FindingsSuppressed.Inc() })

	return &Service{
		cfg:       cfg,
		profile:   profile,
		bus:       bus,
		store:     st,
		catalog:   catalog,
		windows:   windows,
		eval:      eval,
		norm:      normalizer.New(),
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}, nil
}

// Catalog exposes the rule catalog, for the admin handler and tests.
func (s *Service) Catalog() *rules.Catalog {
	return s.catalog
}

// Start subscribes to the domain's subjects and launches background loops.
func (s *Service) Start() error {
	sub, err := s.bus.QueueSubscribe(
		eventbus.LogSubject(s.cfg.Domain),
		eventbus.DetectorQueue(s.cfg.Domain),
		s.handleEvent,
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	// Rule admin is a plain subscription: every instance of the domain must
	// apply the mutation to its own catalog.
	sub, err = s.bus.Subscribe(eventbus.RuleAdminSubject(s.cfg.Domain), s.handleRuleCommand)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	sub, err = s.bus.Subscribe(eventbus.SubjectDiscovery, s.handleDiscovery)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	s.windows.StartGC(s.cfg.WindowGCInterval, func(total int) {
		s.metrics.WindowEntries.Set(float64(total))
	})

	s.wg.Add(1)
	go s.heartbeatLoop()

	s.logger.Info("detector started",
		zap.String("domain", s.cfg.Domain),
		zap.String("agent", s.cfg.AgentName),
		zap.Int("rules", s.catalog.Len()))
	return nil
}

// Stop halts background loops and unsubscribes. The bus connection itself is
// drained by the caller.
func (s *Service) Stop() {
	close(s.stop)
	s.windows.StopGC()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.wg.Wait()
	s.logger.Info("detector stopped", zap.String("domain", s.cfg.Domain))
}

func (s *Service) handleEvent(msg *nats.Msg) {
	event, err := decodeEvent(msg.Data)
	if err != nil {
		s.eventsDropped.Add(1)
		s.metrics.EventsDropped.Inc()
		s.logger.Warn("dropping malformed event", zap.Error(err))
		return
	}
	if err := s.norm.Validate(event); err != nil {
		s.eventsDropped.Add(1)
		s.metrics.EventsDropped.Inc()
		s.logger.Warn("dropping invalid event", zap.String("event_id", event.EventID), zap.Error(err))
		return
	}

	s.eventsSeen.Add(1)
	s.metrics.EventsProcessed.Inc()

	resourceKey := s.profile.ResourceKey(event)

	for _, rule := range s.catalog.List() {
		finding := s.evaluateIsolated(rule, event, resourceKey)
		if finding == nil {
			continue
		}
		s.publishFinding(finding)
	}
}

// evaluateIsolated runs one rule and confines any panic to that rule, so a
// pathological regex or rule state cannot take down the whole event path.
func (s *Service) evaluateIsolated(rule *rules.Rule, event *models.NormalizedEvent, resourceKey string) (finding *models.Finding) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RuleErrors.Inc()
			s.logger.Error("rule evaluation panicked, isolating rule",
				zap.String("rule", rule.Name), zap.Any("panic", r))
			finding = nil
		}
	}()

	s.metrics.RulesEvaluated.Inc()
	return s.eval.Evaluate(rule, event, resourceKey)
}

func (s *Service) publishFinding(f *models.Finding) {
	if err := s.bus.Publish(eventbus.FindingSubject(s.cfg.Domain), f); err != nil {
		s.logger.Error("failed to publish finding",
			zap.String("finding_id", f.FindingID), zap.Error(err))
		return
	}

	s.findingsEmitted.Add(1)
	s.metrics.FindingsEmitted.Inc()
	s.logger.Info("finding published",
		zap.String("finding_id", f.FindingID),
		zap.String("finding_type", f.FindingType),
		zap.String("resource_id", f.ResourceID),
		zap.String("severity", string(f.Severity)))
}

func (s *Service) handleDiscovery(msg *nats.Msg) {
	resp := models.DiscoveryResponse{
		AgentName: s.cfg.AgentName,
		Domain:    s.cfg.Domain,
		PID:       os.Getpid(),
		StartedAt: s.startedAt,
	}

	if msg.Reply != "" {
		data, err := encode(resp)
		if err == nil {
			_ = msg.Respond(data)
			return
		}
	}
	if err := s.bus.Publish(eventbus.SubjectDiscoveryResponse, resp); err != nil {
		s.logger.Warn("failed to answer discovery probe", zap.Error(err))
	}
}
