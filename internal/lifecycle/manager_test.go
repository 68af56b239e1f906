package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/config"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/models"
)

func testConfig() *config.Lifecycle {
	return &config.Lifecycle{
		HeartbeatTimeout:  30 * time.Second,
		SweepInterval:     10 * time.Second,
		DiscoveryInterval: time.Minute,
		StopGracePeriod:   time.Second,
		MaxRestarts:       3,
	}
}

func newTestManager(t *testing.T, specs ...DetectorSpec) *Manager {
	t.Helper()
	mgr, err := NewManager(testConfig(), specs, nil, nil, metrics.New("test"), zap.NewNop())
	require.NoError(t, err)
	return mgr
}

func heartbeatMsg(t *testing.T, domain string) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(models.Heartbeat{
		AgentName: domain + "-detector",
		Domain:    domain,
		PID:       1234,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	return &nats.Msg{Data: data}
}

func TestNewManager_RejectsDuplicateDomain(t *testing.T) {
	_, err := NewManager(testConfig(),
		[]DetectorSpec{
			{Domain: "wifi", Command: "/usr/bin/detector"},
			{Domain: "wifi", Command: "/usr/bin/other"},
		},
		nil, nil, metrics.New("test"), zap.NewNop())
	assert.Error(t, err)
}

func TestHeartbeatMarksRunning(t *testing.T) {
	mgr := newTestManager(t, DetectorSpec{Domain: "wifi", Command: "/usr/bin/detector"})

	mgr.mu.Lock()
	mgr.instances["wifi"].status = models.StatusStarting
	mgr.mu.Unlock()

	mgr.handleHeartbeat(heartbeatMsg(t, "wifi"))

	assert.Equal(t, models.StatusRunning, mgr.Statuses()["wifi"])
}

func TestSweep_MarksSilentDetectorInactive(t *testing.T) {
	mgr := newTestManager(t, DetectorSpec{Domain: "wifi", Command: "/usr/bin/detector"})
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	mgr.mu.Lock()
	mgr.instances["wifi"].status = models.StatusRunning
	mgr.instances["wifi"].lastHeartbeat = base
	mgr.mu.Unlock()

	// Inside the timeout nothing changes.
	mgr.Sweep(base.Add(20 * time.Second))
	assert.Equal(t, models.StatusRunning, mgr.Statuses()["wifi"])

	// Past the timeout the detector is inactive.
	mgr.Sweep(base.Add(31 * time.Second))
	assert.Equal(t, models.StatusInactive, mgr.Statuses()["wifi"])
}

func TestSweep_IgnoresNonRunning(t *testing.T) {
	mgr := newTestManager(t, DetectorSpec{Domain: "wifi", Command: "/usr/bin/detector"})
	base := time.Now()

	mgr.mu.Lock()
	mgr.instances["wifi"].status = models.StatusStopped
	mgr.instances["wifi"].lastHeartbeat = base.Add(-time.Hour)
	mgr.mu.Unlock()

	mgr.Sweep(base)
	assert.Equal(t, models.StatusStopped, mgr.Statuses()["wifi"])
}

func TestHeartbeatRevivesInactiveDetector(t *testing.T) {
	mgr := newTestManager(t, DetectorSpec{Domain: "wifi", Command: "/usr/bin/detector"})

	mgr.mu.Lock()
	mgr.instances["wifi"].status = models.StatusInactive
	mgr.mu.Unlock()

	mgr.handleHeartbeat(heartbeatMsg(t, "wifi"))
	assert.Equal(t, models.StatusRunning, mgr.Statuses()["wifi"])
}

func TestHeartbeatFromUnmanagedDomainIgnored(t *testing.T) {
	mgr := newTestManager(t, DetectorSpec{Domain: "wifi", Command: "/usr/bin/detector"})

	mgr.handleHeartbeat(heartbeatMsg(t, "unknown"))
	_, ok := mgr.Statuses()["unknown"]
	assert.False(t, ok)
}

func TestDiscoveryResponseRegistersUnmanagedDetector(t *testing.T) {
	mgr := newTestManager(t)

	data, err := json.Marshal(models.DiscoveryResponse{
		AgentName: "storage-detector",
		Domain:    "storage",
		PID:       4321,
		StartedAt: time.Now(),
	})
	require.NoError(t, err)

	mgr.handleDiscoveryResponse(&nats.Msg{Data: data})
	assert.Equal(t, models.StatusDiscovered, mgr.Statuses()["storage"])
}

func TestRestartBackoff(t *testing.T) {
	assert.Equal(t, time.Second, restartBackoff(1))
	assert.Equal(t, 2*time.Second, restartBackoff(2))
	assert.Equal(t, 16*time.Second, restartBackoff(5))
	assert.Equal(t, time.Minute, restartBackoff(8))
	assert.Equal(t, time.Minute, restartBackoff(64))
}

func TestLoadSpecs(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	write("wifi.yaml", "domain: wifi\ncommand: /usr/bin/detector\n")
	write("security.yaml", "domain: security\ncommand: /usr/bin/detector\nauto_start: false\nenv:\n  LOG_LEVEL: debug\n")
	write("ignored.txt", "not yaml")

	specs, err := LoadSpecs(dir)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	byDomain := map[string]DetectorSpec{}
	for _, s := range specs {
		byDomain[s.Domain] = s
	}
	wifi := byDomain["wifi"]
	security := byDomain["security"]
	assert.True(t, wifi.autoStart())
	assert.False(t, security.autoStart())
	assert.Equal(t, "debug", byDomain["security"].Env["LOG_LEVEL"])
}

func TestLoadSpecs_DuplicateDomainFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte("domain: wifi\ncommand: /usr/bin/a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"),
		[]byte("domain: wifi\ncommand: /usr/bin/b\n"), 0o644))

	_, err := LoadSpecs(dir)
	assert.Error(t, err)
}

func TestLoadSpecs_MissingFieldsFail(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"),
		[]byte("domain: wifi\n"), 0o644))

	_, err := LoadSpecs(dir)
	assert.Error(t, err)
}
