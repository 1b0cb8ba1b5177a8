package rules

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/decision"
	pkgerrors "hush/pkg/errors"
)

var ruleColumns = []string{"id", "name", "team_id", "channel_id", "condition", "expression", "action", "urgency", "priority", "enabled", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestPostgresRepository_CreateRule(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO filter_rules").
		WithArgs(sqlmock.AnyArg(), "mute bots", "core", "", sqlmock.AnyArg(), "",
			"block", "", 10, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &FilterRule{
		Name:      "mute bots",
		TeamID:    "core",
		Condition: &Condition{Field: "payload.author", Op: OpEquals, Value: "bot"},
		Action:    decision.ActionBlock,
		Priority:  10,
		Enabled:   true,
	}
	require.NoError(t, repo.CreateRule(context.Background(), r))
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateRuleConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO filter_rules").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateRule(context.Background(), &FilterRule{Name: "dup", Action: decision.ActionAllow})
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestPostgresRepository_GetRule(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM filter_rules WHERE id = \\$1").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(ruleColumns).AddRow(
			"r1", "bump", "core", "C1", []byte(`{"field":"payload.priority","op":"equals","value":"P1"}`), "",
			"modify_urgency", "high", 5, true, now, now,
		))

	r, err := repo.GetRule(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, decision.ActionModifyUrgency, r.Action)
	assert.Equal(t, "high", string(r.Urgency))
	require.NotNil(t, r.Condition)
	assert.Equal(t, "payload.priority", r.Condition.Field)
	assert.Equal(t, OpEquals, r.Condition.Op)
}

func TestPostgresRepository_GetRuleNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM filter_rules").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetRule(context.Background(), "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPostgresRepository_ListRulesFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	team := "core"

	mock.ExpectQuery("SELECT (.+) FROM filter_rules WHERE team_id = \\$1 AND enabled = true ORDER BY priority DESC, id ASC").
		WithArgs("core").
		WillReturnRows(sqlmock.NewRows(ruleColumns).
			AddRow("a", "first", "core", "", nil, `payload.draft == true`, "block", "", 9, true, now, now).
			AddRow("b", "second", "core", "", []byte("null"), "", "allow", "", 1, true, now, now))

	rules, err := repo.ListRules(context.Background(), ListFilter{TeamID: &team, EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].ID)
	assert.Equal(t, `payload.draft == true`, rules[0].Expression)
	assert.Nil(t, rules[1].Condition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateAndDeleteMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE filter_rules").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM filter_rules").WithArgs("gone").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRule(context.Background(), &FilterRule{ID: "gone", Action: decision.ActionAllow})
	assert.True(t, pkgerrors.IsNotFound(err))

	err = repo.DeleteRule(context.Background(), "gone")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
