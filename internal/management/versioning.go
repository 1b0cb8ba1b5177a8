package management

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type RuleVersion struct {
	ID           string          `json:"id"`
	RuleID       string          `json:"rule_id"`
	RuleType     string          `json:"rule_type"`
	RuleData     json.RawMessage `json:"rule_data" swaggertype:"object"`
	Version      int             `json:"version"`
	ChangedBy    string          `json:"changed_by,omitempty"`
	ChangeReason string          `json:"change_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type AuditLog struct {
	ID           string    `json:"id"`
	RuleID       *string   `json:"rule_id,omitempty"`
	RuleType     string    `json:"rule_type"`
	Action       string    `json:"action"`
	OldValue     jsonMap   `json:"old_value,omitempty" swaggertype:"object"`
	NewValue     jsonMap   `json:"new_value,omitempty" swaggertype:"object"`
	ChangedBy    string    `json:"changed_by"`
	ChangeReason string    `json:"change_reason,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuditFilter narrows ListAuditLogs. Empty fields match everything.
type AuditFilter struct {
	RuleID   string
	RuleType string
	Limit    int
}

// VersioningRepository keeps the history of configuration changes: a full
// snapshot per rule version and an audit entry per mutation.
type VersioningRepository interface {
	// AppendVersion stores v as the rule's next version and sets v.Version.
	AppendVersion(ctx context.Context, v *RuleVersion) error
	ListVersions(ctx context.Context, ruleID string) ([]RuleVersion, error)
	RecordAudit(ctx context.Context, entry *AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLog, error)
}

// jsonMap is stored as JSONB; nil maps to SQL NULL.
type jsonMap map[string]interface{}

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *jsonMap) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("jsonMap: unsupported source %T", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, (*map[string]interface{})(m))
}

// versionConflictRetries bounds how often two writers racing for the same
// version number are retried.
const versionConflictRetries = 3

type postgresVersioningRepository struct {
	db *sql.DB
}

func NewVersioningRepository(db *sql.DB) VersioningRepository {
	return &postgresVersioningRepository{db: db}
}

func (r *postgresVersioningRepository) AppendVersion(ctx context.Context, v *RuleVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO rule_versions (id, rule_id, rule_type, rule_data, version, changed_by, change_reason, created_at)
		SELECT $1, $2, $3, $4, COALESCE(MAX(version), 0) + 1, $5, $6, $7
		FROM rule_versions WHERE rule_id = $2
		RETURNING version
	`

	var err error
	for attempt := 0; attempt < versionConflictRetries; attempt++ {
		err = r.db.QueryRowContext(ctx, query,
			v.ID, v.RuleID, v.RuleType, []byte(v.RuleData),
			v.ChangedBy, v.ChangeReason, v.CreatedAt,
		).Scan(&v.Version)
		if !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to append version for rule %s: %w", v.RuleID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *postgresVersioningRepository) ListVersions(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, rule_type, rule_data, version, changed_by, change_reason, created_at
		FROM rule_versions
		WHERE rule_id = $1
		ORDER BY version DESC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := make([]RuleVersion, 0)
	for rows.Next() {
		var v RuleVersion
		if err := rows.Scan(
			&v.ID, &v.RuleID, &v.RuleType, (*[]byte)(&v.RuleData),
			&v.Version, &v.ChangedBy, &v.ChangeReason, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *postgresVersioningRepository) RecordAudit(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rule_audit_logs (id, rule_id, rule_type, action, old_value, new_value, changed_by, change_reason, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID, entry.RuleID, entry.RuleType, entry.Action,
		entry.OldValue, entry.NewValue, entry.ChangedBy, entry.ChangeReason, entry.IPAddress, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (r *postgresVersioningRepository) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLog, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.RuleID != "" {
		args = append(args, filter.RuleID)
		where = append(where, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if filter.RuleType != "" {
		args = append(args, filter.RuleType)
		where = append(where, fmt.Sprintf("rule_type = $%d", len(args)))
	}

	query := `SELECT id, rule_id, rule_type, action, old_value, new_value, changed_by, change_reason, ip_address, timestamp FROM rule_audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0)
	for rows.Next() {
		var (
			entry                   AuditLog
			ruleID                  sql.NullString
			changeReason, ipAddress sql.NullString
		)
		if err := rows.Scan(
			&entry.ID, &ruleID, &entry.RuleType, &entry.Action,
			&entry.OldValue, &entry.NewValue, &entry.ChangedBy, &changeReason, &ipAddress, &entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if ruleID.Valid {
			entry.RuleID = &ruleID.String
		}
		entry.ChangeReason = changeReason.String
		entry.IPAddress = ipAddress.String
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

var errVersioningDisabled = errors.New("versioning not enabled")
