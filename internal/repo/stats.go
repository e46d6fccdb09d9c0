package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ConversationStats reports how many messages a and b have exchanged and the
// newest updated_at among them, in one round trip. An empty conversation
// yields (0, nil, nil).
//
// Pins and read receipts bump updated_at and deletes lower the count, so the
// pair works as a version for conditional GETs.
func ConversationStats(ctx context.Context, db *gorm.DB, a, b string) (int64, *time.Time, error) {
	var rows []struct {
		UpdatedAt time.Time
		Total     int64
	}
	// updated_at is selected as a plain column: SQLite returns MAX() over
	// datetimes as TEXT, which does not scan into time.Time.
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Scopes(pairScope(a, b)).
		Select("updated_at, COUNT(*) OVER () AS total").
		Order("updated_at DESC").
		Limit(1).
		Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return 0, nil, err
	}
	return rows[0].Total, &rows[0].UpdatedAt, nil
}
