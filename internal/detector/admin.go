package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/rules"
)

// RuleCommand is a runtime rule mutation received on rules.<domain>.admin.
type RuleCommand struct {
	Op   string           `json:"op"` // add, update, delete, enable, disable, list
	Name string           `json:"name,omitempty"`
	Rule *rules.Definition `json:"rule,omitempty"`
}

// RuleReply answers a rule command when the sender requested a reply.
type RuleReply struct {
	OK    bool       `json:"ok"`
	Error string     `json:"error,omitempty"`
	Rules []RuleInfo `json:"rules,omitempty"`
}

// RuleInfo is the read-only view of a catalog rule returned by "list".
type RuleInfo struct {
	Name      string          `json:"name"`
	Patterns  []string        `json:"patterns"`
	Window    string          `json:"window"`
	Threshold int             `json:"threshold"`
	Cooldown  string          `json:"cooldown"`
	Severity  models.Severity `json:"severity"`
	Enabled   bool            `json:"enabled"`
	Aggregate string          `json:"aggregate"`
	IsDefault bool            `json:"is_default"`
}

func (s *Service) handleRuleCommand(msg *nats.Msg) {
	var cmd RuleCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("ignoring malformed rule command", zap.Error(err))
		s.reply(msg, RuleReply{OK: false, Error: "malformed command"})
		return
	}

	reply := s.applyRuleCommand(cmd)
	if reply.OK {
		s.logger.Info("rule command applied",
			zap.String("op", cmd.Op), zap.String("rule", cmd.Name))
		s.persistRuleChange(cmd)
	} else {
		s.logger.Warn("rule command rejected",
			zap.String("op", cmd.Op), zap.String("rule", cmd.Name), zap.String("reason", reply.Error))
	}
	s.reply(msg, reply)
}

func (s *Service) applyRuleCommand(cmd RuleCommand) RuleReply {
	switch cmd.Op {
	case "add":
		if cmd.Rule == nil {
			return RuleReply{OK: false, Error: "add requires a rule"}
		}
		if err := s.catalog.Add(*cmd.Rule); err != nil {
			return RuleReply{OK: false, Error: err.Error()}
		}
		return RuleReply{OK: true}

	case "update":
		if cmd.Rule == nil {
			return RuleReply{OK: false, Error: "update requires a rule"}
		}
		name := cmd.Name
		if name == "" {
			name = cmd.Rule.Name
		}
		if err := s.catalog.Update(name, *cmd.Rule); err != nil {
			return RuleReply{OK: false, Error: err.Error()}
		}
		return RuleReply{OK: true}

	case "delete":
		if err := s.catalog.Delete(cmd.Name); err != nil {
			return RuleReply{OK: false, Error: err.Error()}
		}
		return RuleReply{OK: true}

	case "enable", "disable":
		if err := s.catalog.SetEnabled(cmd.Name, cmd.Op == "enable"); err != nil {
			return RuleReply{OK: false, Error: err.Error()}
		}
		return RuleReply{OK: true}

	case "list":
		snapshot := s.catalog.List()
		infos := make([]RuleInfo, 0, len(snapshot))
		for _, r := range snapshot {
			infos = append(infos, RuleInfo{
				Name:      r.Name,
				Patterns:  r.Patterns,
				Window:    r.Window.String(),
				Threshold: r.Threshold,
				Cooldown:  r.Cooldown.String(),
				Severity:  r.Severity,
				Enabled:   r.Enabled,
				Aggregate: r.Aggregate,
				IsDefault: r.IsDefault,
			})
		}
		return RuleReply{OK: true, Rules: infos}

	default:
		return RuleReply{OK: false, Error: fmt.Sprintf("unknown op %q", cmd.Op)}
	}
}

// persistRuleChange writes an applied mutation back to the store so rule
// state survives restarts. Best-effort; the in-memory catalog is already
// updated either way.
func (s *Service) persistRuleChange(cmd RuleCommand) {
	if s.store == nil || cmd.Op == "list" {
		return
	}

	name := cmd.Name
	if name == "" && cmd.Rule != nil {
		name = cmd.Rule.Name
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cmd.Op {
	case "delete":
		if err := s.store.DeleteRule(ctx, s.cfg.Domain, name); err != nil {
			s.logger.Warn("failed to persist rule deletion",
				zap.String("rule", name), zap.Error(err))
		}
	case "add", "update", "enable", "disable":
		rule, err := s.catalog.Get(name)
		if err != nil {
			return
		}
		if err := s.store.SaveRule(ctx, s.cfg.Domain, rule); err != nil {
			s.logger.Warn("failed to persist rule",
				zap.String("rule", name), zap.Error(err))
		}
	}
}

func (s *Service) reply(msg *nats.Msg, r RuleReply) {
	if msg.Reply == "" {
		return
	}
	data, err := encode(r)
	if err != nil {
		return
	}
	_ = msg.Respond(data)
}

func decodeEvent(data []byte) (*models.NormalizedEvent, error) {
	var event models.NormalizedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &event, nil
}

func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
