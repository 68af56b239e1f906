// Package store persists findings, intended actions, playbooks and detector
// instances. The orchestrator treats persistence as best-effort for findings
// and as a hard gate only for the action audit record of the finding being
// processed.
package store

import (
	"context"

	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/playbook"
	"github.com/dannguy1/opmas/internal/rules"
)

// Store is the persistence surface the services depend on. Kept as an
// interface so tests can substitute fakes.
type Store interface {
	SaveFinding(ctx context.Context, f *models.Finding) error
	SaveIntendedAction(ctx context.Context, a *models.IntendedAction) error
	SavePlaybook(ctx context.Context, pb *playbook.Playbook) error
	SaveRule(ctx context.Context, domain string, rule *rules.Rule) error
	DeleteRule(ctx context.Context, domain, name string) error
	ListRules(ctx context.Context, domain string) ([]rules.Definition, error)
	UpsertDetectorInstance(ctx context.Context, domain string, status models.AgentStatus) error
	Close()
}
