package management

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockVersioning(t *testing.T) (VersioningRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewVersioningRepository(db), mock
}

func TestAppendVersion_RetriesOnRace(t *testing.T) {
	repo, mock := newMockVersioning(t)

	mock.ExpectQuery("INSERT INTO rule_versions").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("INSERT INTO rule_versions").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))

	v := &RuleVersion{RuleID: "r1", RuleType: ruleTypeFilter, RuleData: []byte(`{}`)}
	require.NoError(t, repo.AppendVersion(context.Background(), v))
	assert.Equal(t, 4, v.Version)
	assert.NotEmpty(t, v.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditLogs_BuildsFilter(t *testing.T) {
	columns := []string{"id", "rule_id", "rule_type", "action", "old_value", "new_value", "changed_by", "change_reason", "ip_address", "timestamp"}
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		filter AuditFilter
		query  string
		args   []driver.Value
	}{
		{
			name:   "everything",
			filter: AuditFilter{Limit: 10},
			query:  `FROM rule_audit_logs ORDER BY timestamp DESC LIMIT \$1`,
			args:   []driver.Value{10},
		},
		{
			name:   "by rule and type",
			filter: AuditFilter{RuleID: "r1", RuleType: ruleTypeFilter, Limit: 5},
			query:  `WHERE rule_id = \$1 AND rule_type = \$2 ORDER BY timestamp DESC LIMIT \$3`,
			args:   []driver.Value{"r1", ruleTypeFilter, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockVersioning(t)
			mock.ExpectQuery(tt.query).WithArgs(tt.args...).WillReturnRows(
				sqlmock.NewRows(columns).AddRow("a1", "r1", ruleTypeFilter, "update",
					[]byte(`{"priority":1}`), nil, "ops", nil, nil, ts),
			)

			logs, err := repo.ListAuditLogs(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			require.NotNil(t, logs[0].RuleID)
			assert.Equal(t, "r1", *logs[0].RuleID)
			assert.Equal(t, float64(1), logs[0].OldValue["priority"])
			assert.Nil(t, logs[0].NewValue)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
