package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/playbook"
	"github.com/dannguy1/opmas/internal/rules"
)

// schema is applied at startup. Logical entities only; migration tooling is
// deliberately out of scope.
const schema = `
CREATE TABLE IF NOT EXISTS findings (
	finding_id   TEXT PRIMARY KEY,
	finding_type TEXT NOT NULL,
	agent_name   TEXT NOT NULL,
	resource_id  TEXT NOT NULL,
	severity     TEXT NOT NULL,
	message      TEXT,
	details      JSONB,
	ts           TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS intended_actions (
	action_id        TEXT PRIMARY KEY,
	finding_id       TEXT NOT NULL,
	playbook_step_id TEXT NOT NULL,
	action_type      TEXT NOT NULL,
	rendered_command TEXT,
	render_failed    BOOLEAN NOT NULL DEFAULT FALSE,
	failure_reason   TEXT,
	ts               TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS playbooks (
	finding_type TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT
);
CREATE TABLE IF NOT EXISTS playbook_steps (
	step_id          TEXT PRIMARY KEY,
	finding_type     TEXT NOT NULL REFERENCES playbooks(finding_type) ON DELETE CASCADE,
	ord              INT NOT NULL,
	action_type      TEXT NOT NULL,
	command_template TEXT,
	description      TEXT,
	timeout_seconds  INT,
	config           JSONB
);
CREATE TABLE IF NOT EXISTS rules (
	domain      TEXT NOT NULL,
	name        TEXT NOT NULL,
	definition  JSONB NOT NULL,
	is_default  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (domain, name)
);
CREATE TABLE IF NOT EXISTS detector_instances (
	domain         TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects, pings and ensures the schema.
func NewPostgres(ctx context.Context, url string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("connected to postgres")
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) SaveFinding(ctx context.Context, f *models.Finding) error {
	details, err := json.Marshal(f.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal finding details: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO findings (finding_id, finding_type, agent_name, resource_id, severity, message, details, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (finding_id) DO NOTHING`,
		f.FindingID, f.FindingType, f.AgentName, f.ResourceID, string(f.Severity), f.Message, details, f.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

func (p *Postgres) SaveIntendedAction(ctx context.Context, a *models.IntendedAction) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO intended_actions (action_id, finding_id, playbook_step_id, action_type, rendered_command, render_failed, failure_reason, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ActionID, a.FindingID, a.PlaybookStepID, a.ActionType, a.RenderedCommand, a.RenderFailed, a.FailureReason, a.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert intended action: %w", err)
	}
	return nil
}

func (p *Postgres) SavePlaybook(ctx context.Context, pb *playbook.Playbook) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin playbook tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO playbooks (finding_type, name, description) VALUES ($1, $2, $3)
		 ON CONFLICT (finding_type) DO UPDATE SET name = $2, description = $3`,
		pb.FindingType, pb.Name, pb.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert playbook: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM playbook_steps WHERE finding_type = $1`, pb.FindingType); err != nil {
		return fmt.Errorf("failed to clear playbook steps: %w", err)
	}

	for _, step := range pb.Steps {
		cfg, err := json.Marshal(step.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal step config: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO playbook_steps (step_id, finding_type, ord, action_type, command_template, description, timeout_seconds, config)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			step.ID(pb.FindingType), pb.FindingType, step.Order, step.ActionType,
			step.CommandTemplate, step.Description, int(step.Timeout.Seconds()), cfg)
		if err != nil {
			return fmt.Errorf("failed to insert playbook step: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit playbook tx: %w", err)
	}
	return nil
}

func (p *Postgres) SaveRule(ctx context.Context, domain string, rule *rules.Rule) error {
	def, err := json.Marshal(rule.Definition())
	if err != nil {
		return fmt.Errorf("failed to marshal rule %s: %w", rule.Name, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO rules (domain, name, definition, is_default, created_at, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (domain, name) DO UPDATE SET definition = $3, is_default = $4, modified_at = $6`,
		domain, rule.Name, def, rule.IsDefault, rule.CreatedAt, rule.ModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.Name, err)
	}
	return nil
}

func (p *Postgres) DeleteRule(ctx context.Context, domain, name string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM rules WHERE domain = $1 AND name = $2`, domain, name)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) ListRules(ctx context.Context, domain string) ([]rules.Definition, error) {
	rows, err := p.pool.Query(ctx, `SELECT definition FROM rules WHERE domain = $1 ORDER BY name`, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for %s: %w", domain, err)
	}
	defer rows.Close()

	var defs []rules.Definition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		var def rules.Definition
		if err := json.Unmarshal(raw, &def); err != nil {
			p.logger.Warn("skipping undecodable persisted rule", zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (p *Postgres) UpsertDetectorInstance(ctx context.Context, domain string, status models.AgentStatus) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO detector_instances (domain, status, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (domain) DO UPDATE SET status = $2, updated_at = now()`,
		domain, string(status))
	if err != nil {
		return fmt.Errorf("failed to upsert detector instance: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
