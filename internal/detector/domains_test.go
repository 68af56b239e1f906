package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/rules"
)

func TestLookupProfile(t *testing.T) {
	for _, domain := range []string{"wifi", "network", "security", "storage", "system"} {
		p, err := LookupProfile(domain)
		require.NoError(t, err, domain)
		assert.Equal(t, domain, p.Domain)
		assert.NotNil(t, p.ResourceKey)
		assert.NotEmpty(t, p.Defaults)
	}

	_, err := LookupProfile("bluetooth")
	assert.Error(t, err)
}

func TestBuiltinRulesCompile(t *testing.T) {
	for _, p := range profiles {
		for _, def := range p.Defaults {
			_, err := rules.Compile(def)
			assert.NoError(t, err, "%s/%s", p.Domain, def.Name)
		}
	}
}

func TestResourceKey_Hostname(t *testing.T) {
	p, err := LookupProfile("security")
	require.NoError(t, err)

	key := p.ResourceKey(&models.NormalizedEvent{Hostname: "router-1"})
	assert.Equal(t, "router-1", key)
}

func TestResourceKey_HostInterface(t *testing.T) {
	p, err := LookupProfile("wifi")
	require.NoError(t, err)

	withIface := &models.NormalizedEvent{
		Hostname: "ap1",
		Fields:   map[string]string{"interface": "wlan0"},
	}
	assert.Equal(t, "ap1:wlan0", p.ResourceKey(withIface))

	withoutIface := &models.NormalizedEvent{Hostname: "ap1"}
	assert.Equal(t, "ap1", p.ResourceKey(withoutIface))
}

func TestDomains(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{"wifi", "network", "security", "storage", "system"},
		Domains())
}
