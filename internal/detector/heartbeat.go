package detector

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/eventbus"
	"github.com/dannguy1/opmas/internal/models"
)

// heartbeatLoop publishes liveness plus host telemetry until Stop. A failed
// publish is logged and retried on the next tick; the lifecycle manager
// tolerates gaps up to its heartbeat timeout.
func (s *Service) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb := s.collectHeartbeat()
			if err := s.bus.Publish(eventbus.SubjectHeartbeat, hb); err != nil {
				s.logger.Warn("failed to publish heartbeat", zap.Error(err))
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Service) collectHeartbeat() models.Heartbeat {
	hb := models.Heartbeat{
		AgentName:       s.cfg.AgentName,
		Domain:          s.cfg.Domain,
		PID:             os.Getpid(),
		Timestamp:       time.Now(),
		EventsSeen:      s.eventsSeen.Load(),
		FindingsEmitted: s.findingsEmitted.Load(),
		EventsDropped:   s.eventsDropped.Load(),
	}

	// Telemetry is best-effort; a heartbeat without it is still a heartbeat.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		hb.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hb.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		hb.Load1m = avg.Load1
	}

	return hb
}
