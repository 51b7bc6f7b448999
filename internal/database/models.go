package database

import "time"

// AuditLog is one relay audit event. Rows are never updated; the retention
// purge deletes old ones.
type AuditLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
	EventType    string    `gorm:"index;not null" json:"event_type"`
	ConnectionID string    `gorm:"index" json:"connection_id"`
	Host         string    `gorm:"index" json:"host"`
	Username     string    `gorm:"index" json:"username"`
	SourceIP     string    `json:"source_ip"`
	Details      string    `gorm:"type:text" json:"details"`
}
