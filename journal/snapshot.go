package journal

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kasuganosora/corrosion/model"
)

// SaveSnapshot upserts the durable snapshot of a session.
func (svc *Service) SaveSnapshot(ctx context.Context, sessionID string, seq uint64, savedBy string, body []byte) error {
	rec := model.SessionSnapshot{
		SessionID: sessionID,
		Seq:       seq,
		SavedBy:   savedBy,
		Body:      datatypes.JSON(body),
	}
	return svc.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seq", "saved_by", "body", "updated_at"}),
	}).Create(&rec).Error
}

// LoadSnapshot returns the durable snapshot of a session, if any.
func (svc *Service) LoadSnapshot(ctx context.Context, sessionID string) (model.SessionSnapshot, bool, error) {
	var rec model.SessionSnapshot
	err := svc.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SessionSnapshot{}, false, nil
	}
	if err != nil {
		return model.SessionSnapshot{}, false, err
	}
	return rec, true, nil
}
