package casefs

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"casefs/internal/model"
)

// Activity types.
const (
	ActivityUpload = "upload"
	ActivityDelete = "delete"
	ActivityRename = "rename"
	ActivityCopy   = "copy"
	ActivityMove   = "move"
	ActivityCreate = "create"
	ActivityExport = "export"
)

// Activity page bounds.
const (
	DefaultActivityLimit = 10
	MaxActivityLimit     = 100
)

// LogActivity appends an entry to the owner's activity log. It never fails
// the caller: errors are logged and dropped.
func (s *Service) LogActivity(ctx context.Context, ownerID, activityType, itemType, itemName string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("encoding activity details", "type", activityType, "error", err)
		encoded = []byte("{}")
	}

	activity := &model.Activity{
		ID:           s.idgen.New(),
		OwnerID:      ownerID,
		ActivityType: activityType,
		ItemType:     itemType,
		ItemName:     itemName,
		Details:      string(encoded),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.database.InsertActivity(context.WithoutCancel(ctx), activity); err != nil {
		s.logger.Warn("recording activity", "type", activityType, "item", itemName, "error", err)
	}
}

// ActivityPage is one page of the activity log, newest first.
type ActivityPage struct {
	Activities []*model.Activity `json:"activities"`
	Total      int64             `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// ListActivity returns a page of ownerID's activity log. A non-positive
// limit selects the default; limits above the maximum are clamped.
func (s *Service) ListActivity(ctx context.Context, ownerID string, limit, offset int) (*ActivityPage, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrValidation, offset)
	}
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	limit = min(limit, MaxActivityLimit)

	page := &ActivityPage{Limit: limit, Offset: offset}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page.Activities, err = s.database.ListActivities(gctx, ownerID, limit, offset)
		return err
	})
	g.Go(func() error {
		var err error
		page.Total, err = s.database.CountActivities(gctx, ownerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, upstream("listing activity", err)
	}
	return page, nil
}
