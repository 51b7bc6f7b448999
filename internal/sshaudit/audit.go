package sshaudit

import (
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/sshrelay/internal/database"
	"github.com/gluk-w/claworc/sshrelay/internal/logutil"
	"gorm.io/gorm"
)

// Event types for relay audit logging.
const (
	EventConnectionEstablished = "connection_established"
	EventConnectionTerminated  = "connection_terminated"
	EventConnectionFailed      = "connection_failed"
	EventCommandExecution      = "command_execution"
)

// AuditEntry contains the fields needed to create an audit log entry.
type AuditEntry struct {
	EventType    string
	ConnectionID string
	Host         string
	Username     string
	SourceIP     string
	Details      string
	// CreatedAt defaults to the current time when zero.
	CreatedAt time.Time
}

// Auditor records relay events and reconstructed commands to the database so
// they can be queried over the API. Rows are never updated; PurgeOlderThan
// deletes those past the retention period.
//
// Auditor implements Sink; a nil *Auditor accepts and drops everything.
type Auditor struct {
	mu            sync.Mutex // serializes sqlite writers
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// DefaultRetentionDays applies when NewAuditor is given a non-positive
// retention.
const DefaultRetentionDays = 90

// NewAuditor creates a new Auditor that writes to the given database and
// keeps rows for retentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log records an audit event to the database and standard logger.
func (a *Auditor) Log(entry AuditEntry) error {
	if a == nil {
		return nil
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = a.nowFn()
	}
	record := database.AuditLog{
		CreatedAt:    createdAt,
		EventType:    entry.EventType,
		ConnectionID: entry.ConnectionID,
		Host:         entry.Host,
		Username:     entry.Username,
		SourceIP:     entry.SourceIP,
		Details:      entry.Details,
	}

	a.mu.Lock()
	err := a.db.Create(&record).Error
	a.mu.Unlock()
	if err != nil {
		log.Printf("[ssh-audit] failed to write audit log: %v", err)
		return err
	}

	if entry.EventType != EventCommandExecution {
		log.Printf("[ssh-audit] %s conn=%s target=%s@%s ip=%s details=%s",
			entry.EventType,
			entry.ConnectionID,
			logutil.SanitizeForLog(entry.Username),
			logutil.SanitizeForLog(entry.Host),
			entry.SourceIP,
			logutil.SanitizeForLog(entry.Details),
		)
	}
	return nil
}

// Append stores rec as a command_execution event.
func (a *Auditor) Append(rec CommandRecord) {
	a.Log(AuditEntry{
		EventType:    EventCommandExecution,
		ConnectionID: rec.ConnectionID,
		Host:         rec.Host,
		Username:     rec.Username,
		Details:      rec.Text,
		CreatedAt:    rec.Timestamp,
	})
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	EventType    string
	ConnectionID string
	Host         string
	Username     string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query retrieves audit log entries matching the given options, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.AuditLog{})

	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.ConnectionID != "" {
		tx = tx.Where("connection_id = ?", opts.ConnectionID)
	}
	if opts.Host != "" {
		tx = tx.Where("host = ?", opts.Host)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.AuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes rows older than days, or older than the configured
// retention when days <= 0. The audit file is not affected.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)

	a.mu.Lock()
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	a.mu.Unlock()
	if result.Error != nil {
		log.Printf("[ssh-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
