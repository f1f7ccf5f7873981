package model

import (
	"time"

	"gorm.io/datatypes"
)

// Encounter is one journaled creature event: a spot, a kill, a pocket room
// roll and so on.
type Encounter struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID   string         `gorm:"uniqueIndex;size:36;not null" json:"event_id"`
	SessionID string         `gorm:"index:idx_encounter_session;size:64;not null" json:"session_id"`
	NodeID    string         `gorm:"size:64" json:"node_id"`
	Event     string         `gorm:"index:idx_encounter_event;size:64;not null" json:"event"`
	Player    int            `gorm:"index:idx_encounter_player" json:"player"`
	State     string         `gorm:"size:16" json:"state"`
	SimMs     int64          `json:"sim_ms"`
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `gorm:"index:idx_encounter_created;autoCreateTime:milli" json:"created_at"`
}

// SessionSnapshot is the durable copy of a session's latest creature
// snapshot, used when no shared cache survives a restart.
type SessionSnapshot struct {
	SessionID string         `gorm:"primaryKey;size:64" json:"session_id"`
	Seq       uint64         `json:"seq"`
	SavedBy   string         `gorm:"size:64" json:"saved_by"`
	Body      datatypes.JSON `json:"body"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:milli" json:"updated_at"`
}
