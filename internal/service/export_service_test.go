package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/pkg/export"
)

type mockSubjectLister struct {
	subjects []models.Subject
}

func (m *mockSubjectLister) ListBySchool(ctx context.Context, schoolID string) ([]models.Subject, error) {
	var out []models.Subject
	for _, subject := range m.subjects {
		if subject.SchoolID == schoolID {
			out = append(out, subject)
		}
	}
	return out, nil
}

func TestExportDatasetRowsMatchHeaders(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 1, 540, 580))
	teachers := &mockTeacherLookup{teachers: map[string]models.Teacher{
		"t-1": teacherFixture("t-1", []string{"subject_teacher"}, nil),
	}}
	subjects := &mockSubjectLister{subjects: []models.Subject{
		{ID: "sub-math", SchoolID: "school-1", Name: "Mathematics"},
	}}
	svc := NewExportService(nil, repo, subjects, teachers, nil, nil, ExportConfig{}, nil)

	dataset, title, err := svc.buildDataset(context.Background(), models.ExportJobParams{
		SchoolID:  "school-1",
		SectionID: "sec-1",
		Format:    models.ExportFormatCSV,
	})
	require.NoError(t, err)
	assert.Contains(t, title, "sec-1")

	require.Len(t, dataset.Rows, 1)
	row := dataset.Rows[0]
	assert.Equal(t, "Monday", row["Day"])
	assert.Equal(t, "09:00", row["Start"])
	assert.Equal(t, "09:40", row["End"])
	assert.Equal(t, "Mathematics", row["Subject"])
	assert.Equal(t, "Teacher t-1", row["Teacher"])

	out, err := export.NewCSVExporter().Render(dataset)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Day,Start,End,Subject,Teacher", lines[0])
	assert.Equal(t, "Monday,09:00,09:40,Mathematics,Teacher t-1", lines[1])
}

func TestExportDatasetFallsBackToIDs(t *testing.T) {
	// Unknown subject and teacher ids still export, as raw ids.
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-ghost", 2, 600, 640))
	teachers := &mockTeacherLookup{teachers: map[string]models.Teacher{}}
	subjects := &mockSubjectLister{}
	svc := NewExportService(nil, repo, subjects, teachers, nil, nil, ExportConfig{}, nil)

	dataset, _, err := svc.buildDataset(context.Background(), models.ExportJobParams{
		SchoolID:  "school-1",
		SectionID: "sec-1",
		Format:    models.ExportFormatCSV,
	})
	require.NoError(t, err)
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "sub-math", dataset.Rows[0]["Subject"])
	assert.Equal(t, "t-ghost", dataset.Rows[0]["Teacher"])
}
