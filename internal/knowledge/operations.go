package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/models"
)

// resolvedTTL keeps a resolved finding readable for a short grace period so
// late status consumers can still see what was resolved.
const resolvedTTL = 300 * time.Second

func findingKey(findingID string) string {
	return "finding:" + findingID
}

func activeKey(findingType, resourceID string) string {
	return "active_finding:" + findingType + ":" + resourceID
}

func resourceSetKey(resourceID string) string {
	return "findings:active:" + resourceID
}

// RegisterFinding records a finding as active for its resource. Re-registering
// the same (type, resource) pair overwrites the mapping with the newest
// finding ID, which is the behavior dashboards want.
func (c *Client) RegisterFinding(ctx context.Context, f *models.Finding) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal finding: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, findingKey(f.FindingID), payload, 0)
	pipe.Set(ctx, activeKey(f.FindingType, f.ResourceID), f.FindingID, 0)
	pipe.SAdd(ctx, resourceSetKey(f.ResourceID), f.FindingID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register finding %s: %w", f.FindingID, err)
	}

	c.logger.Debug("finding registered as active",
		zap.String("finding_id", f.FindingID),
		zap.String("finding_type", f.FindingType),
		zap.String("resource_id", f.ResourceID))
	return nil
}

// IsActive reports whether a finding of the given type is currently active
// for the resource, and the finding ID when it is.
func (c *Client) IsActive(ctx context.Context, findingType, resourceID string) (string, bool, error) {
	id, err := c.rdb.Get(ctx, activeKey(findingType, resourceID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to check active finding: %w", err)
	}
	return id, true, nil
}

// MarkResolved clears the active mapping for a finding and lets the finding
// record itself expire after a grace period.
func (c *Client) MarkResolved(ctx context.Context, findingID string) error {
	payload, err := c.rdb.Get(ctx, findingKey(findingID)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load finding %s: %w", findingID, err)
	}

	var f models.Finding
	if err := json.Unmarshal(payload, &f); err != nil {
		return fmt.Errorf("failed to decode finding %s: %w", findingID, err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, activeKey(f.FindingType, f.ResourceID))
	pipe.SRem(ctx, resourceSetKey(f.ResourceID), findingID)
	pipe.Expire(ctx, findingKey(findingID), resolvedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to resolve finding %s: %w", findingID, err)
	}

	c.logger.Info("finding resolved",
		zap.String("finding_id", findingID),
		zap.String("resource_id", f.ResourceID))
	return nil
}

// GetActiveFindings returns the findings currently active for a resource.
// Stale set members whose records are gone are skipped.
func (c *Client) GetActiveFindings(ctx context.Context, resourceID string) ([]*models.Finding, error) {
	ids, err := c.rdb.SMembers(ctx, resourceSetKey(resourceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active findings for %s: %w", resourceID, err)
	}

	findings := make([]*models.Finding, 0, len(ids))
	for _, id := range ids {
		payload, err := c.rdb.Get(ctx, findingKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load finding %s: %w", id, err)
		}
		var f models.Finding
		if err := json.Unmarshal(payload, &f); err != nil {
			c.logger.Warn("skipping undecodable finding record", zap.String("finding_id", id), zap.Error(err))
			continue
		}
		findings = append(findings, &f)
	}
	return findings, nil
}
