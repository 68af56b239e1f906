package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dannguy1/opmas/internal/models"
)

func validEvent() *models.NormalizedEvent {
	return &models.NormalizedEvent{
		EventID:     "evt-1",
		ArrivalTime: time.Now(),
		Hostname:    "router-1",
		ProcessName: "sshd",
		Message:     "Failed password for admin",
	}
}

func TestValidate(t *testing.T) {
	n := New()
	assert.NoError(t, n.Validate(validEvent()))

	missing := validEvent()
	missing.EventID = ""
	assert.Error(t, n.Validate(missing))

	missing = validEvent()
	missing.Hostname = ""
	assert.Error(t, n.Validate(missing))

	missing = validEvent()
	missing.Message = ""
	assert.Error(t, n.Validate(missing))
}

func TestClassify_ExplicitDomainWins(t *testing.T) {
	n := New()
	e := validEvent()
	e.Domain = "storage"
	assert.Equal(t, "storage", n.Classify(e))
}

func TestClassify_ByProcess(t *testing.T) {
	n := New()
	cases := map[string]string{
		"sshd":    "security",
		"hostapd": "wifi",
		"netifd":  "network",
		"smartd":  "storage",
		"crond":   "system",
	}
	for proc, want := range cases {
		e := validEvent()
		e.ProcessName = proc
		e.Message = "something happened"
		assert.Equal(t, want, n.Classify(e), proc)
	}
}

func TestClassify_ByMessage(t *testing.T) {
	n := New()
	cases := map[string]string{
		"Failed password for admin":    "security",
		"wlan0: signal lost":           "wifi",
		"eth0: link down":              "network",
		"I/O error on disk sda":        "storage",
		"something entirely different": "system",
	}
	for msg, want := range cases {
		e := validEvent()
		e.ProcessName = "unknownd"
		e.Message = msg
		assert.Equal(t, want, n.Classify(e), msg)
	}
}
