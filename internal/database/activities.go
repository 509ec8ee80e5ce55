package database

import (
	"context"
	"fmt"

	"casefs/internal/model"
)

func (s *SQLDatabase) InsertActivity(ctx context.Context, a *model.Activity) error {
	_, err := s.exec(ctx, `
		INSERT INTO activities (id, owner_id, activity_type, item_type, item_name, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.ActivityType, a.ItemType, a.ItemName, a.Details, a.CreatedAt.UTC())
	if err != nil {
		return mapError("inserting activity", err)
	}
	return nil
}

func (s *SQLDatabase) ListActivities(ctx context.Context, ownerID string, limit, offset int) ([]*model.Activity, error) {
	rows, err := s.query(ctx, `
		SELECT id, owner_id, activity_type, item_type, item_name, details, created_at
		FROM activities WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.ActivityType, &a.ItemType, &a.ItemName, &a.Details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		activities = append(activities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	return activities, nil
}

func (s *SQLDatabase) CountActivities(ctx context.Context, ownerID string) (int64, error) {
	return s.count(ctx, "counting activities", "SELECT COUNT(*) FROM activities WHERE owner_id = ?", ownerID)
}
