// Package normalizer validates inbound normalized events and classifies them
// into detector domains. Actual syslog parsing happens upstream; this is the
// boundary where malformed payloads are rejected before they reach the bus.
//
// Classify is executed by the external log source when it picks the
// logs.<domain> subject to publish on; detectors only re-run Validate on
// arrival. It lives here so publishers and consumers share one domain
// mapping.
package normalizer

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dannguy1/opmas/internal/models"
)

// Normalizer validates events and assigns them a domain.
type Normalizer struct {
	validate *validator.Validate
}

func New() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

// Validate checks the event's required fields. Events failing validation are
// dropped by the caller, never published.
func (n *Normalizer) Validate(event *models.NormalizedEvent) error {
	if err := n.validate.Struct(event); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return nil
}

// processDomains maps well-known process names to detector domains. First
// match on the event's process name wins; message heuristics only run when
// the process is unknown.
var processDomains = map[string]string{
	"sshd":           "security",
	"sudo":           "security",
	"su":             "security",
	"login":          "security",
	"hostapd":        "wifi",
	"wpa_supplicant": "wifi",
	"netifd":         "network",
	"dnsmasq":        "network",
	"odhcpd":         "network",
	"smartd":         "storage",
	"kernel":         "system",
	"crond":          "system",
	"systemd":        "system",
}

// Classify assigns the event to a detector domain. The event's own Domain
// field wins when set; unmatched events fall through to "system" so nothing
// is silently lost.
func (n *Normalizer) Classify(event *models.NormalizedEvent) string {
	if event.Domain != "" {
		return event.Domain
	}

	proc := strings.ToLower(event.ProcessName)
	if domain, ok := processDomains[proc]; ok {
		return domain
	}

	msg := strings.ToLower(event.Message)
	switch {
	case strings.Contains(msg, "auth") || strings.Contains(msg, "password") || strings.Contains(msg, "login"):
		return "security"
	case strings.Contains(msg, "wlan") || strings.Contains(msg, "wifi") || strings.Contains(msg, "signal"):
		return "wifi"
	case strings.Contains(msg, "link") || strings.Contains(msg, "dhcp") || strings.Contains(msg, "carrier"):
		return "network"
	case strings.Contains(msg, "disk") || strings.Contains(msg, "i/o error") || strings.Contains(msg, "sector"):
		return "storage"
	default:
		return "system"
	}
}
