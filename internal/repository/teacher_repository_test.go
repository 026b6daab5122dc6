package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyahub/school-api/internal/models"
)

func newTeacherRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func teacherRow(id, name string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "school_id", "username", "email", "password_hash", "full_name", "roles", "teachable_grades", "active", "created_at", "updated_at"}).
		AddRow(id, "school-1", name, name+"@school.test", "hash", name, pq.StringArray{string(models.TeacherRoleSubject)}, []byte(`[{"from":1,"to":10}]`), true, time.Now(), time.Now())
}

func TestTeacherRepositoryListRejectsUnknownSort(t *testing.T) {
	db, mock, cleanup := newTeacherRepoMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	// Unknown sort columns fall back to created_at.
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers WHERE school_id = $1 ORDER BY created_at DESC")).
		WithArgs("school-1").
		WillReturnRows(teacherRow("t-1", "asha"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teachers WHERE school_id = $1")).
		WithArgs("school-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	teachers, total, err := repo.List(context.Background(), models.TeacherFilter{
		SchoolID: "school-1",
		SortBy:   "password_hash; DROP TABLE teachers",
	})
	require.NoError(t, err)
	assert.Len(t, teachers, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherRepositoryListActiveBySchool(t *testing.T) {
	db, mock, cleanup := newTeacherRepoMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	rows := teacherRow("t-1", "asha").AddRow(
		"t-2", "school-1", "binod", "binod@school.test", "hash", "binod",
		pq.StringArray{string(models.TeacherRoleSubstitute)}, []byte(`[{"from":6,"to":12}]`), true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers WHERE school_id = $1 AND active ORDER BY full_name ASC")).
		WithArgs("school-1").
		WillReturnRows(rows)

	teachers, err := repo.ListActiveBySchool(context.Background(), "school-1")
	require.NoError(t, err)
	require.Len(t, teachers, 2)
	assert.Equal(t, "t-1", teachers[0].ID)
	assert.True(t, teachers[1].TeachableGrades.Covers(8))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherRepositoryExistsByEmail(t *testing.T) {
	db, mock, cleanup := newTeacherRepoMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM teachers WHERE LOWER(email) = LOWER($1) AND id <> $2 LIMIT 1")).
		WithArgs("asha@school.test", "t-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))

	exists, err := repo.ExistsByEmail(context.Background(), "asha@school.test", "t-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newTeacherRepoMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	mock.ExpectExec("UPDATE teachers SET active = FALSE").
		WithArgs("t-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "t-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
