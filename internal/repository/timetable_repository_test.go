package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyahub/school-api/internal/models"
)

func newTimetableRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func timetableRows(slots ...models.TimetableSlot) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "school_id", "section_id", "subject_id", "teacher_id", "day_of_week", "start_minute", "end_minute", "created_at", "updated_at"})
	for _, s := range slots {
		rows.AddRow(s.ID, s.SchoolID, s.SectionID, s.SubjectID, s.TeacherID, s.DayOfWeek, s.StartMinute, s.EndMinute, time.Now(), time.Now())
	}
	return rows
}

func TestTimetableRepositoryListOrdersByDayThenStart(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM timetable_slots WHERE school_id = $1 AND section_id = $2 ORDER BY day_of_week ASC, start_minute ASC")).
		WithArgs("school-1", "sec-1").
		WillReturnRows(timetableRows(models.TimetableSlot{ID: "slot-1", SchoolID: "school-1", SectionID: "sec-1", SubjectID: "sub-1", TeacherID: "t-1", DayOfWeek: 1, StartMinute: 540, EndMinute: 580}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM timetable_slots WHERE school_id = $1 AND section_id = $2")).
		WithArgs("school-1", "sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	slots, total, err := repo.List(context.Background(), models.TimetableFilter{SchoolID: "school-1", SectionID: "sec-1"})
	require.NoError(t, err)
	assert.Len(t, slots, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryFindSectionOverlap(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("section_id = $2 AND day_of_week = $3\n  AND start_minute < $4 AND end_minute > $5")).
		WithArgs("school-1", "sec-1", 2, 600, 560).
		WillReturnRows(timetableRows(models.TimetableSlot{ID: "slot-1", SchoolID: "school-1", SectionID: "sec-1", SubjectID: "sub-1", TeacherID: "t-1", DayOfWeek: 2, StartMinute: 540, EndMinute: 580}))

	slot, err := repo.FindSectionOverlap(context.Background(), "school-1", "sec-1", 2, 560, 600, "")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, "slot-1", slot.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryFindTeacherOverlapExcludesSelf(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("teacher_id = $2 AND day_of_week = $3\n  AND start_minute < $4 AND end_minute > $5 AND id <> $6")).
		WithArgs("school-1", "t-1", 2, 600, 560, "slot-self").
		WillReturnRows(timetableRows())

	slot, err := repo.FindTeacherOverlap(context.Background(), "school-1", "t-1", 2, 560, 600, "slot-self")
	require.NoError(t, err)
	assert.Nil(t, slot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec("INSERT INTO timetable_slots").
		WithArgs(sqlmock.AnyArg(), "school-1", "sec-1", "sub-1", "t-1", 2, 540, 580, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	slot := &models.TimetableSlot{SchoolID: "school-1", SectionID: "sec-1", SubjectID: "sub-1", TeacherID: "t-1", DayOfWeek: 2, StartMinute: 540, EndMinute: 580}
	require.NoError(t, repo.Create(context.Background(), slot))
	assert.NotEmpty(t, slot.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryDeleteReportsExistence(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetable_slots WHERE id = $1")).
		WithArgs("slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	existed, err := repo.Delete(context.Background(), "slot-1")
	require.NoError(t, err)
	assert.True(t, existed)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetable_slots WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	existed, err = repo.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, existed)

	assert.NoError(t, mock.ExpectationsWereMet())
}
