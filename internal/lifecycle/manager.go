// Package lifecycle supervises detector processes: it spawns them from
// operator-provided specs, tracks their heartbeats, marks silent detectors
// inactive and restarts crashed ones.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/config"
	"github.com/dannguy1/opmas/internal/eventbus"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/store"
)

// instance is the manager's view of one detector process.
type instance struct {
	spec          DetectorSpec
	status        models.AgentStatus
	pid           int
	cmd           *exec.Cmd
	lastHeartbeat time.Time
	restarts      int
	stopping      bool
}

// Manager owns the detector registry. All state transitions funnel through
// its mutex; process exits and heartbeats arrive on separate goroutines.
type Manager struct {
	cfg     *config.Lifecycle
	bus     *eventbus.Bus
	store   store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	instances map[string]*instance

	now  func() time.Time
	subs []*nats.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a manager for the given specs. store may be nil; status
// persistence is then skipped.
func NewManager(cfg *config.Lifecycle, specs []DetectorSpec, bus *eventbus.Bus,
	st store.Store, m *metrics.Metrics, logger *zap.Logger) (*Manager, error) {
	mgr := &Manager{
		cfg:       cfg,
		bus:       bus,
		store:     st,
		metrics:   m,
		logger:    logger,
		instances: make(map[string]*instance),
		now:       time.Now,
		stop:      make(chan struct{}),
	}

	for _, spec := range specs {
		if _, dup := mgr.instances[spec.Domain]; dup {
			return nil, fmt.Errorf("duplicate detector domain %q", spec.Domain)
		}
		mgr.instances[spec.Domain] = &instance{spec: spec, status: models.StatusRegistered}
	}

	return mgr, nil
}

// SetClock overrides the manager's clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Start subscribes to the control-plane subjects, spawns auto-start
// detectors and launches the sweep and discovery loops.
func (m *Manager) Start() error {
	sub, err := m.bus.Subscribe(eventbus.SubjectHeartbeat, m.handleHeartbeat)
	if err != nil {
		return err
	}
	m.subs = append(m.subs, sub)

	sub, err = m.bus.Subscribe(eventbus.SubjectDiscoveryResponse, m.handleDiscoveryResponse)
	if err != nil {
		return err
	}
	m.subs = append(m.subs, sub)

	m.mu.Lock()
	for domain, inst := range m.instances {
		if !inst.spec.autoStart() {
			continue
		}
		if err := m.spawnLocked(inst); err != nil {
			m.logger.Error("failed to start detector", zap.String("domain", domain), zap.Error(err))
		}
	}
	m.mu.Unlock()

	m.wg.Add(2)
	go m.sweepLoop()
	go m.discoveryLoop()

	m.logger.Info("lifecycle manager started", zap.Int("detectors", len(m.instances)))
	return nil
}

// Stop gracefully shuts down every running detector and halts the loops.
func (m *Manager) Stop() {
	close(m.stop)

	for _, sub := range m.subs {
		_ = sub.Unsubscribe()
	}

	m.mu.Lock()
	var running []*instance
	for _, inst := range m.instances {
		if inst.cmd != nil && (inst.status == models.StatusRunning ||
			inst.status == models.StatusStarting || inst.status == models.StatusInactive) {
			running = append(running, inst)
		}
	}
	m.mu.Unlock()

	for _, inst := range running {
		m.StopDetector(inst.spec.Domain)
	}

	m.wg.Wait()
	m.logger.Info("lifecycle manager stopped")
}

// StartDetector spawns a detector by domain.
func (m *Manager) StartDetector(domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[domain]
	if !ok {
		return fmt.Errorf("unknown detector domain %q", domain)
	}
	if inst.status == models.StatusRunning || inst.status == models.StatusStarting {
		return fmt.Errorf("detector %s is already running", domain)
	}
	return m.spawnLocked(inst)
}

// StopDetector sends SIGTERM and escalates to SIGKILL after the grace
// period. Blocks until the process is gone.
func (m *Manager) StopDetector(domain string) {
	m.mu.Lock()
	inst, ok := m.instances[domain]
	if !ok || inst.cmd == nil || inst.cmd.Process == nil {
		m.mu.Unlock()
		return
	}
	inst.stopping = true
	m.setStatusLocked(inst, models.StatusStopping)
	proc := inst.cmd.Process
	m.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		m.logger.Warn("failed to signal detector", zap.String("domain", domain), zap.Error(err))
	}

	deadline := time.After(m.cfg.StopGracePeriod)
	check := time.NewTicker(200 * time.Millisecond)
	defer check.Stop()

	for {
		select {
		case <-deadline:
			m.logger.Warn("detector ignored SIGTERM, killing", zap.String("domain", domain))
			_ = proc.Kill()
			return
		case <-check.C:
			m.mu.Lock()
			done := inst.status == models.StatusStopped
			m.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// Statuses returns a snapshot of domain -> status.
func (m *Manager) Statuses() map[string]models.AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.AgentStatus, len(m.instances))
	for domain, inst := range m.instances {
		out[domain] = inst.status
	}
	return out
}

// spawnLocked starts the detector process. Callers hold m.mu.
func (m *Manager) spawnLocked(inst *instance) error {
	cmd := exec.Command(inst.spec.Command, inst.spec.Args...)
	cmd.Env = append(os.Environ(),
		"DETECTOR_DOMAIN="+inst.spec.Domain,
		"NATS_URL="+m.cfg.NatsURL,
	)
	for k, v := range inst.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		m.setStatusLocked(inst, models.StatusCrashed)
		return fmt.Errorf("failed to start detector %s: %w", inst.spec.Domain, err)
	}

	inst.cmd = cmd
	inst.pid = cmd.Process.Pid
	inst.stopping = false
	inst.lastHeartbeat = m.now()
	m.setStatusLocked(inst, models.StatusStarting)

	m.logger.Info("detector spawned",
		zap.String("domain", inst.spec.Domain), zap.Int("pid", inst.pid))

	m.wg.Add(1)
	go m.waitOn(inst, cmd)
	return nil
}

// waitOn reaps the process and decides between stopped, crashed and restart.
func (m *Manager) waitOn(inst *instance, cmd *exec.Cmd) {
	defer m.wg.Done()

	err := cmd.Wait()

	m.mu.Lock()
	if cmd != inst.cmd {
		// A newer process has replaced this one; nothing to record.
		m.mu.Unlock()
		return
	}
	inst.cmd = nil

	if inst.stopping {
		m.setStatusLocked(inst, models.StatusStopped)
		m.mu.Unlock()
		return
	}

	m.setStatusLocked(inst, models.StatusCrashed)
	inst.restarts++
	restarts := inst.restarts
	domain := inst.spec.Domain

	var restart bool
	if restarts <= m.cfg.MaxRestarts {
		restart = true
	}
	m.mu.Unlock()

	m.logger.Error("detector exited unexpectedly",
		zap.String("domain", domain), zap.Int("restarts", restarts), zap.Error(err))

	if !restart {
		m.logger.Error("detector exceeded restart limit, leaving crashed",
			zap.String("domain", domain))
		return
	}

	select {
	case <-m.stop:
		return
	case <-time.After(restartBackoff(restarts)):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.cmd == nil && !inst.stopping {
		if err := m.spawnLocked(inst); err != nil {
			m.logger.Error("failed to restart detector", zap.String("domain", domain), zap.Error(err))
		}
	}
}

// restartBackoff doubles per consecutive restart, capped at a minute.
func restartBackoff(restarts int) time.Duration {
	d := time.Second << uint(restarts-1)
	if d > time.Minute || d <= 0 {
		return time.Minute
	}
	return d
}

func (m *Manager) handleHeartbeat(msg *nats.Msg) {
	var hb models.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		m.logger.Warn("ignoring malformed heartbeat", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[hb.Domain]
	if !ok {
		// A detector not under management; worth seeing but not supervising.
		m.logger.Debug("heartbeat from unmanaged detector",
			zap.String("domain", hb.Domain), zap.String("agent", hb.AgentName))
		return
	}

	inst.lastHeartbeat = m.now()
	if inst.status == models.StatusStarting || inst.status == models.StatusInactive {
		m.setStatusLocked(inst, models.StatusRunning)
	}
}

func (m *Manager) handleDiscoveryResponse(msg *nats.Msg) {
	var resp models.DiscoveryResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[resp.Domain]
	if !ok {
		m.instances[resp.Domain] = &instance{
			spec:          DetectorSpec{Domain: resp.Domain},
			status:        models.StatusDiscovered,
			pid:           resp.PID,
			lastHeartbeat: m.now(),
		}
		m.logger.Info("discovered unmanaged detector",
			zap.String("domain", resp.Domain), zap.Int("pid", resp.PID))
		return
	}

	inst.lastHeartbeat = m.now()
	if inst.status == models.StatusStarting {
		m.setStatusLocked(inst, models.StatusRunning)
	}
}

// Sweep marks detectors whose heartbeat is older than the timeout inactive.
// Exported for tests; the sweep loop calls it on a ticker.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inst := range m.instances {
		if inst.status != models.StatusRunning {
			continue
		}
		if now.Sub(inst.lastHeartbeat) > m.cfg.HeartbeatTimeout {
			m.logger.Warn("detector heartbeat timed out",
				zap.String("domain", inst.spec.Domain),
				zap.Time("last_heartbeat", inst.lastHeartbeat))
			m.setStatusLocked(inst, models.StatusInactive)
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(m.now())
		case <-m.stop:
			return
		}
	}
}

// discoveryLoop periodically probes for detectors started outside the
// manager, so the registry converges on reality.
func (m *Manager) discoveryLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.bus.Publish(eventbus.SubjectDiscovery, struct{}{}); err != nil {
				m.logger.Warn("failed to publish discovery probe", zap.Error(err))
			}
		case <-m.stop:
			return
		}
	}
}

// setStatusLocked records a transition, announces it and persists it.
// Callers hold m.mu.
func (m *Manager) setStatusLocked(inst *instance, status models.AgentStatus) {
	if inst.status == status {
		return
	}
	inst.status = status

	m.logger.Info("detector status changed",
		zap.String("domain", inst.spec.Domain), zap.String("status", string(status)))

	running := 0
	for _, other := range m.instances {
		if other.status == models.StatusRunning {
			running++
		}
	}
	m.metrics.ActiveDetectors.Set(float64(running))

	if m.bus != nil {
		transition := models.StatusMessage{
			Kind:      "transition",
			Domain:    inst.spec.Domain,
			Status:    string(status),
			Timestamp: m.now(),
		}
		if err := m.bus.Publish(eventbus.SubjectStatus, transition); err != nil {
			m.logger.Warn("failed to publish status transition", zap.Error(err))
		}
	}

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.UpsertDetectorInstance(ctx, inst.spec.Domain, status); err != nil {
			m.metrics.PersistFailures.WithLabelValues("detector_instance").Inc()
			m.logger.Warn("failed to persist detector status",
				zap.String("domain", inst.spec.Domain), zap.Error(err))
		}
		cancel()
	}
}
