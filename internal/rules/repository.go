package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"hush/internal/decision"
	"hush/internal/event"
	pkgerrors "hush/pkg/errors"
)

type ListFilter struct {
	TeamID      *string
	EnabledOnly bool
}

type Repository interface {
	CreateRule(ctx context.Context, rule *FilterRule) error
	GetRule(ctx context.Context, id string) (*FilterRule, error)
	ListRules(ctx context.Context, filter ListFilter) ([]FilterRule, error)
	UpdateRule(ctx context.Context, rule *FilterRule) error
	DeleteRule(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, name, team_id, channel_id, condition, expression, action, urgency, priority, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*FilterRule, error) {
	var (
		rule      FilterRule
		condition []byte
		action    string
		urgency   string
	)
	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.TeamID, &rule.ChannelID,
		&condition, &rule.Expression, &action, &urgency,
		&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Action = decision.Action(action)
	rule.Urgency = event.Urgency(urgency)

	if len(condition) > 0 && string(condition) != "null" {
		var cond Condition
		if err := json.Unmarshal(condition, &cond); err != nil {
			return nil, fmt.Errorf("failed to decode condition of rule %s: %w", rule.ID, err)
		}
		rule.Condition = &cond
	}
	return &rule, nil
}

func encodeCondition(cond *Condition) ([]byte, error) {
	if cond == nil {
		return nil, nil
	}
	return json.Marshal(cond)
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule *FilterRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	condition, err := encodeCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}

	query := `
		INSERT INTO filter_rules (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.TeamID, rule.ChannelID,
		condition, rule.Expression, string(rule.Action), string(rule.Urgency),
		rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists for team '%s'", rule.Name, rule.TeamID))
		}
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint") {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists for team '%s'", rule.Name, rule.TeamID))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetRule(ctx context.Context, id string) (*FilterRule, error) {
	query := `SELECT ` + selectColumns + ` FROM filter_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithCause(err).WithDetail("id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

func (r *PostgresRepository) ListRules(ctx context.Context, filter ListFilter) ([]FilterRule, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.TeamID != nil {
		args = append(args, *filter.TeamID)
		where = append(where, fmt.Sprintf("team_id = $%d", len(args)))
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = true")
	}

	query := `SELECT ` + selectColumns + ` FROM filter_rules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]FilterRule, 0)
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

func (r *PostgresRepository) UpdateRule(ctx context.Context, rule *FilterRule) error {
	rule.UpdatedAt = time.Now()

	condition, err := encodeCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}

	query := `
		UPDATE filter_rules
		SET name = $1, team_id = $2, channel_id = $3, condition = $4, expression = $5,
		    action = $6, urgency = $7, priority = $8, enabled = $9, updated_at = $10
		WHERE id = $11
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.TeamID, rule.ChannelID, condition, rule.Expression,
		string(rule.Action), string(rule.Urgency), rule.Priority, rule.Enabled, rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return expectOneRow(res, rule.ID)
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return nil
}
