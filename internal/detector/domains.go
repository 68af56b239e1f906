package detector

import (
	"fmt"
	"time"

	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/rules"
)

// Profile is the per-domain specialization of the generic detector: how to
// derive the resource key from an event, and which default rules ship with
// the domain. Everything else is shared.
type Profile struct {
	Domain      string
	ResourceKey func(*models.NormalizedEvent) string
	Defaults    []rules.Definition
}

func byHostname(e *models.NormalizedEvent) string {
	return e.Hostname
}

// byHostInterface keys on hostname:interface so one noisy radio cannot mask
// another on the same host. Falls back to hostname when no interface field
// was extracted upstream.
func byHostInterface(e *models.NormalizedEvent) string {
	if iface := e.Field("interface"); iface != "" {
		return e.Hostname + ":" + iface
	}
	return e.Hostname
}

var profiles = map[string]*Profile{
	"security": {
		Domain:      "security",
		ResourceKey: byHostname,
		Defaults: []rules.Definition{
			{
				Name:        "AuthFailures",
				Description: "Repeated authentication failures",
				Patterns:    []string{`auth failed for (\w+)`, `Failed password for (\w+)`},
				Window:      60 * time.Second,
				Threshold:   3,
				Cooldown:    300 * time.Second,
				Severity:    models.SeverityHigh,
			},
			{
				Name:        "PrivilegeEscalation",
				Description: "sudo authentication failure",
				Patterns:    []string{`sudo: .*authentication failure.*user=(\w+)`},
				Window:      300 * time.Second,
				Threshold:   2,
				Cooldown:    600 * time.Second,
				Severity:    models.SeverityCritical,
			},
		},
	},
	"wifi": {
		Domain:      "wifi",
		ResourceKey: byHostInterface,
		Defaults: []rules.Definition{
			{
				Name:        "SignalDegraded",
				Description: "Sustained weak client signal",
				Patterns:    []string{`signal[= ](-?\d+) ?dBm`},
				Window:      120 * time.Second,
				Threshold:   5,
				Cooldown:    300 * time.Second,
				Severity:    models.SeverityMedium,
				Aggregate:   rules.AggregateValueThreshold,
				ValueLimit:  -75,
				ValueBelow:  true,
			},
			{
				Name:        "AuthStormWifi",
				Description: "Burst of wifi association failures",
				Patterns:    []string{`denied authentication`, `association failed`},
				Window:      60 * time.Second,
				Threshold:   10,
				Cooldown:    300 * time.Second,
				Severity:    models.SeverityMedium,
			},
		},
	},
	"system": {
		Domain:      "system",
		ResourceKey: byHostname,
		Defaults: []rules.Definition{
			{
				Name:        "CPUHigh",
				Description: "Sustained high CPU load",
				Patterns:    []string{`cpu usage[: ]+(\d+(?:\.\d+)?)%`},
				Window:      300 * time.Second,
				Threshold:   3,
				Cooldown:    600 * time.Second,
				Severity:    models.SeverityMedium,
				Aggregate:   rules.AggregateAverage,
				ValueLimit:  90,
			},
			{
				Name:        "OOMKill",
				Description: "Kernel OOM killer fired",
				Patterns:    []string{`Out of memory: Killed process \d+ \((\S+)\)`},
				Window:      60 * time.Second,
				Threshold:   1,
				Cooldown:    300 * time.Second,
				Severity:    models.SeverityHigh,
			},
		},
	},
	"storage": {
		Domain:      "storage",
		ResourceKey: byHostname,
		Defaults: []rules.Definition{
			{
				Name:        "DiskErrors",
				Description: "Disk I/O error reported",
				Patterns:    []string{`(?i)i/o error.*dev (\w+)`, `(?i)failed command: (READ|WRITE) FPDMA QUEUED`},
				Window:      60 * time.Second,
				Threshold:   1,
				Cooldown:    300 * time.Second,
				Severity:    models.SeverityCritical,
			},
			{
				Name:        "FilesystemFull",
				Description: "Filesystem usage critical",
				Patterns:    []string{`(?i)no space left on device`},
				Window:      120 * time.Second,
				Threshold:   1,
				Cooldown:    900 * time.Second,
				Severity:    models.SeverityHigh,
			},
		},
	},
	"network": {
		Domain:      "network",
		ResourceKey: byHostInterface,
		Defaults: []rules.Definition{
			{
				Name:        "LinkFlap",
				Description: "Interface bouncing between up and down",
				Patterns:    []string{`(\w+): link (?:up|down)`, `carrier (?:lost|acquired) on (\w+)`},
				Window:      120 * time.Second,
				Threshold:   4,
				Cooldown:    600 * time.Second,
				Severity:    models.SeverityMedium,
			},
			{
				Name:        "DHCPExhaustion",
				Description: "DHCP pool running out of leases",
				Patterns:    []string{`(?i)no addresses? available`},
				Window:      300 * time.Second,
				Threshold:   3,
				Cooldown:    900 * time.Second,
				Severity:    models.SeverityHigh,
			},
		},
	},
}

// LookupProfile returns the profile for a domain.
func LookupProfile(domain string) (*Profile, error) {
	p, ok := profiles[domain]
	if !ok {
		return nil, fmt.Errorf("unknown detector domain %q", domain)
	}
	return p, nil
}

// Domains lists the supported detector domains.
func Domains() []string {
	out := make([]string, 0, len(profiles))
	for d := range profiles {
		out = append(out, d)
	}
	return out
}
