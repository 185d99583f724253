package aggregator

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/keys"
)

// RecentDrop is one entry on the capped recent-drops lists, stored as JSON.
// Display consumers read these to render "recent drops" panels.
type RecentDrop struct {
	EventID    string    `json:"event_id"`
	EntityID   string    `json:"entity_id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Quantity   int64     `json:"quantity"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recent returns the entity's recent significant drops, newest first.
// Unparseable entries are skipped, not fatal.
func (a *Aggregator) Recent(ctx context.Context, entityID string) ([]RecentDrop, error) {
	return a.readRecent(ctx, keys.EntityRecent(entityID, "all_time"))
}

// GroupRecent returns a group's recent significant drops, newest first.
func (a *Aggregator) GroupRecent(ctx context.Context, groupID string) ([]RecentDrop, error) {
	return a.readRecent(ctx, keys.GroupRecent(groupID, "all_time"))
}

func (a *Aggregator) readRecent(ctx context.Context, key string) ([]RecentDrop, error) {
	raw, err := a.store.LRange(ctx, key, a.opts.RecentCap)
	if err != nil {
		return nil, err
	}
	out := make([]RecentDrop, 0, len(raw))
	for _, v := range raw {
		var d RecentDrop
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			a.logger.Warn("Malformed recent drop entry, skipping",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
