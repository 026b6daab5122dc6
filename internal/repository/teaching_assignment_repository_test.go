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

func newAssignmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTeachingAssignmentRepositoryList(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewTeachingAssignmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "school_id", "academic_year", "section_id", "subject_id", "teacher_id", "active", "created_at", "updated_at"}).
		AddRow("ta-1", "school-1", "2025-26", "sec-1", "sub-1", "t-1", true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM teaching_assignments WHERE school_id = $1 AND section_id = $2")).
		WithArgs("school-1", "sec-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teaching_assignments WHERE school_id = $1 AND section_id = $2")).
		WithArgs("school-1", "sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	assignments, total, err := repo.List(context.Background(), models.TeachingAssignmentFilter{SchoolID: "school-1", SectionID: "sec-1"})
	require.NoError(t, err)
	assert.Len(t, assignments, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingAssignmentRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewTeachingAssignmentRepository(db)

	mock.ExpectExec("INSERT INTO teaching_assignments").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.TeachingAssignment{
		SchoolID:     "school-1",
		AcademicYear: "2025-26",
		SectionID:    "sec-1",
		SubjectID:    "sub-1",
		TeacherID:    "t-1",
		Active:       true,
	})
	assert.ErrorIs(t, err, ErrAssignmentExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingAssignmentRepositoryDeactivateMissing(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewTeachingAssignmentRepository(db)

	mock.ExpectExec("UPDATE teaching_assignments SET active = FALSE").
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Deactivate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoRowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
