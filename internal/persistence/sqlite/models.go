package sqlite

import (
	"time"

	"github.com/zjrosen/deepwork/internal/persistence"
)

// taskColumns is the list of columns to select for task queries.
const taskColumns = `id, title, description, status, priority, focus_intensity, complexity,
	estimated_duration, created_at, updated_at, completed_at`

// taskModel represents the database row for the tasks table.
// Times are stored as Unix milliseconds.
type taskModel struct {
	ID                string
	Title             string
	Description       string
	Status            string
	Priority          int
	FocusIntensity    int
	Complexity        string
	EstimatedDuration int
	CreatedAt         int64
	UpdatedAt         int64
	CompletedAt       *int64 // nullable
}

// scanTask scans a row into a taskModel.
func scanTask(scanner interface{ Scan(...any) error }) (*taskModel, error) {
	var m taskModel
	err := scanner.Scan(
		&m.ID, &m.Title, &m.Description, &m.Status, &m.Priority, &m.FocusIntensity,
		&m.Complexity, &m.EstimatedDuration, &m.CreatedAt, &m.UpdatedAt, &m.CompletedAt,
	)
	return &m, err
}

func toTaskModel(r persistence.TaskRow) taskModel {
	m := taskModel{
		ID:                r.ID,
		Title:             r.Title,
		Description:       r.Description,
		Status:            r.Status,
		Priority:          r.Priority,
		FocusIntensity:    r.FocusIntensity,
		Complexity:        r.Complexity,
		EstimatedDuration: r.EstimatedDuration,
		CreatedAt:         r.CreatedAt.UnixMilli(),
		UpdatedAt:         r.UpdatedAt.UnixMilli(),
	}
	if r.CompletedAt != nil {
		ms := r.CompletedAt.UnixMilli()
		m.CompletedAt = &ms
	}
	return m
}

func (m *taskModel) toRow() persistence.TaskRow {
	r := persistence.TaskRow{
		ID:                m.ID,
		Title:             m.Title,
		Description:       m.Description,
		Status:            m.Status,
		Priority:          m.Priority,
		FocusIntensity:    m.FocusIntensity,
		Complexity:        m.Complexity,
		EstimatedDuration: m.EstimatedDuration,
		CreatedAt:         fromMillis(m.CreatedAt),
		UpdatedAt:         fromMillis(m.UpdatedAt),
	}
	if m.CompletedAt != nil {
		at := fromMillis(*m.CompletedAt)
		r.CompletedAt = &at
	}
	return r
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
