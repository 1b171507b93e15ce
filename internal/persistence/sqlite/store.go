package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"

	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Store implements persistence.Store using SQLite.
type Store struct {
	db *DB
}

// Ensure Store implements persistence.Store.
var _ persistence.Store = (*Store)(nil)

func newStore(db *DB) *Store {
	return &Store{db: db}
}

// Open creates the database at path if needed and returns a Store over it.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return db.TaskStore(), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) conn() *sql.DB {
	return s.db.conn
}

// GetAllTasks returns tasks matching the filter ordered by creation time.
// Dependencies and subtasks are loaded in one query each when requested.
func (s *Store) GetAllTasks(ctx context.Context, opts persistence.QueryOptions) (persistence.Response[[]persistence.TaskRow], error) {
	query, args := buildListQuery(opts.Filter)

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return persistence.Response[[]persistence.TaskRow]{}, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []persistence.TaskRow
	index := make(map[string]int)
	for rows.Next() {
		m, err := scanTask(rows)
		if err != nil {
			return persistence.Response[[]persistence.TaskRow]{}, fmt.Errorf("failed to scan task: %w", err)
		}
		index[m.ID] = len(out)
		out = append(out, m.toRow())
	}
	if err := rows.Err(); err != nil {
		return persistence.Response[[]persistence.TaskRow]{}, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	if out == nil {
		out = []persistence.TaskRow{}
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	if opts.IncludeDependencies && len(ids) > 0 {
		deps, err := loadDependencies(ctx, s.conn(), ids)
		if err != nil {
			return persistence.Response[[]persistence.TaskRow]{}, err
		}
		for id, d := range deps {
			out[index[id]].Dependencies = d
		}
	}
	if opts.IncludeSubtasks && len(ids) > 0 {
		subs, err := loadSubtasks(ctx, s.conn(), ids)
		if err != nil {
			return persistence.Response[[]persistence.TaskRow]{}, err
		}
		for id, st := range subs {
			out[index[id]].Subtasks = st
		}
	}

	nested := opts.IncludeDependencies || opts.IncludeSubtasks
	return persistence.Response[[]persistence.TaskRow]{
		Data:     out,
		Metadata: persistence.Metadata{Complexity: persistence.EstimateComplexity(len(out), nested), RowCount: len(out)},
	}, nil
}

// buildListQuery translates a filter into a WHERE clause.
func buildListQuery(f domain.TaskFilter) (string, []any) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	var args []any

	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.Priorities) > 0 {
		query += ` AND priority IN (` + placeholders(len(f.Priorities)) + `)`
		for _, p := range f.Priorities {
			args = append(args, int(p))
		}
	}
	if len(f.Complexities) > 0 {
		query += ` AND complexity IN (` + placeholders(len(f.Complexities)) + `)`
		for _, c := range f.Complexities {
			args = append(args, string(c))
		}
	}
	if f.MinFocusIntensity > 0 {
		query += ` AND focus_intensity >= ?`
		args = append(args, f.MinFocusIntensity)
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		query += ` AND (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}

	query += ` ORDER BY created_at ASC, id ASC`
	return query, args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadDependencies(ctx context.Context, q querier, ids []string) (map[string][]string, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	//nolint:gosec // G202: placeholders are literal "?" strings, values passed as args
	rows, err := q.QueryContext(ctx,
		`SELECT task_id, depends_on_id FROM task_dependencies
		 WHERE task_id IN (`+placeholders(len(ids))+`)
		 ORDER BY task_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var taskID, dep string
		if err := rows.Scan(&taskID, &dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		out[taskID] = append(out[taskID], dep)
	}
	return out, rows.Err()
}

func loadSubtasks(ctx context.Context, q querier, ids []string) (map[string][]persistence.SubtaskRow, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	//nolint:gosec // G202: placeholders are literal "?" strings, values passed as args
	rows, err := q.QueryContext(ctx,
		`SELECT id, task_id, title, completed, position FROM subtasks
		 WHERE task_id IN (`+placeholders(len(ids))+`)
		 ORDER BY task_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load subtasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]persistence.SubtaskRow)
	for rows.Next() {
		var st persistence.SubtaskRow
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.Position); err != nil {
			return nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		out[st.TaskID] = append(out[st.TaskID], st)
	}
	return out, rows.Err()
}

// GetTask retrieves a task with its dependencies and subtasks.
func (s *Store) GetTask(ctx context.Context, id string) (persistence.Response[persistence.TaskRow], error) {
	row, err := getTask(ctx, s.conn(), id)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	return single(row), nil
}

type rowQuerier interface {
	querier
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q rowQuerier, id string) (persistence.TaskRow, error) {
	m, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.TaskRow{}, fmt.Errorf("task %s: %w", id, persistence.ErrNotFound)
	}
	if err != nil {
		return persistence.TaskRow{}, fmt.Errorf("failed to get task: %w", err)
	}
	row := m.toRow()

	deps, err := loadDependencies(ctx, q, []string{id})
	if err != nil {
		return persistence.TaskRow{}, err
	}
	row.Dependencies = deps[id]

	subs, err := loadSubtasks(ctx, q, []string{id})
	if err != nil {
		return persistence.TaskRow{}, err
	}
	row.Subtasks = subs[id]
	return row, nil
}

// CreateTask inserts a task with its dependencies and subtasks in one transaction.
func (s *Store) CreateTask(ctx context.Context, row persistence.TaskRow) (persistence.Response[persistence.TaskRow], error) {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m := toTaskModel(row)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Description, m.Status, m.Priority, m.FocusIntensity, m.Complexity,
		m.EstimatedDuration, m.CreatedAt, m.UpdatedAt, m.CompletedAt,
	)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, classify("insert task", err)
	}
	if err := writeChildren(ctx, tx, row); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}

	created, err := getTask(ctx, tx, row.ID)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	if err := tx.Commit(); err != nil {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("failed to commit task: %w", err)
	}
	return single(created), nil
}

// UpdateTask replaces the task's columns, dependencies and subtasks.
// created_at is never changed.
func (s *Store) UpdateTask(ctx context.Context, id string, row persistence.TaskRow) (persistence.Response[persistence.TaskRow], error) {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row.ID = id
	m := toTaskModel(row)
	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET
			title = ?, description = ?, status = ?, priority = ?, focus_intensity = ?,
			complexity = ?, estimated_duration = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		m.Title, m.Description, m.Status, m.Priority, m.FocusIntensity,
		m.Complexity, m.EstimatedDuration, m.UpdatedAt, m.CompletedAt,
		id,
	)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, classify("update task", err)
	}
	if err := requireAffected(result, "task", id); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, id); err != nil {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id = ?`, id); err != nil {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("failed to clear subtasks: %w", err)
	}
	if err := writeChildren(ctx, tx, row); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}

	updated, err := getTask(ctx, tx, id)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	if err := tx.Commit(); err != nil {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("failed to commit task: %w", err)
	}
	return single(updated), nil
}

func writeChildren(ctx context.Context, tx *sql.Tx, row persistence.TaskRow) error {
	for i, dep := range row.Dependencies {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id, position) VALUES (?, ?, ?)`,
			row.ID, dep, i,
		)
		if err != nil {
			return classify("insert dependency", err)
		}
	}
	for i, st := range row.Subtasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subtasks (id, task_id, title, completed, position) VALUES (?, ?, ?, ?, ?)`,
			st.ID, row.ID, st.Title, st.Completed, i,
		)
		if err != nil {
			return classify("insert subtask", err)
		}
	}
	return nil
}

// UpdateTaskStatus sets the status and timestamps of a task.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status domain.Status, at time.Time) (persistence.Response[persistence.TaskRow], error) {
	var completedAt *int64
	if status == domain.StatusCompleted {
		ms := at.UnixMilli()
		completedAt = &ms
	}
	result, err := s.conn().ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(status), at.UnixMilli(), completedAt, id,
	)
	if err != nil {
		return persistence.Response[persistence.TaskRow]{}, classify("update task status", err)
	}
	if err := requireAffected(result, "task", id); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	return s.GetTask(ctx, id)
}

// GetSubtask looks up one subtask by id.
func (s *Store) GetSubtask(ctx context.Context, subtaskID string) (persistence.Response[persistence.SubtaskRow], error) {
	var st persistence.SubtaskRow
	err := s.conn().QueryRowContext(ctx,
		`SELECT id, task_id, title, completed, position FROM subtasks WHERE id = ?`, subtaskID,
	).Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Response[persistence.SubtaskRow]{}, fmt.Errorf("subtask %s: %w", subtaskID, persistence.ErrNotFound)
	}
	if err != nil {
		return persistence.Response[persistence.SubtaskRow]{}, classify("get subtask", err)
	}
	return persistence.Response[persistence.SubtaskRow]{
		Data:     st,
		Metadata: persistence.Metadata{Complexity: domain.ComplexityLow, RowCount: 1},
	}, nil
}

// UpdateSubtaskStatus sets a subtask's completion flag and touches its parent.
func (s *Store) UpdateSubtaskStatus(ctx context.Context, subtaskID string, completed bool, at time.Time) (persistence.Response[persistence.SubtaskRow], error) {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return persistence.Response[persistence.SubtaskRow]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var st persistence.SubtaskRow
	err = tx.QueryRowContext(ctx,
		`UPDATE subtasks SET completed = ? WHERE id = ? RETURNING id, task_id, title, completed, position`,
		completed, subtaskID,
	).Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Response[persistence.SubtaskRow]{}, fmt.Errorf("subtask %s: %w", subtaskID, persistence.ErrNotFound)
	}
	if err != nil {
		return persistence.Response[persistence.SubtaskRow]{}, classify("update subtask", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, at.UnixMilli(), st.TaskID); err != nil {
		return persistence.Response[persistence.SubtaskRow]{}, classify("touch parent task", err)
	}
	if err := tx.Commit(); err != nil {
		return persistence.Response[persistence.SubtaskRow]{}, fmt.Errorf("failed to commit subtask: %w", err)
	}
	return persistence.Response[persistence.SubtaskRow]{
		Data:     st,
		Metadata: persistence.Metadata{Complexity: domain.ComplexityLow, RowCount: 1},
	}, nil
}

// DeleteTask hard-deletes a task. Dependencies and subtasks cascade.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	result, err := s.conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return classify("delete task", err)
	}
	return requireAffected(result, "task", id)
}

// GetAnalytics aggregates over all tasks and subtasks.
func (s *Store) GetAnalytics(ctx context.Context) (persistence.Response[persistence.AnalyticsRow], error) {
	a := persistence.AnalyticsRow{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[int]int),
	}

	err := s.conn().QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(focus_intensity), 0),
			COALESCE(SUM(estimated_duration), 0)
		 FROM tasks`,
	).Scan(&a.TotalTasks, &a.CompletedTasks, &a.AverageFocusIntensity, &a.TotalEstimatedMinutes)
	if err != nil {
		return persistence.Response[persistence.AnalyticsRow]{}, fmt.Errorf("failed to aggregate tasks: %w", err)
	}

	err = groupCount(ctx, s.conn(), `SELECT status, COUNT(*) FROM tasks GROUP BY status`, func(rows *sql.Rows) error {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		a.ByStatus[status] = n
		return nil
	})
	if err != nil {
		return persistence.Response[persistence.AnalyticsRow]{}, err
	}
	err = groupCount(ctx, s.conn(), `SELECT priority, COUNT(*) FROM tasks GROUP BY priority`, func(rows *sql.Rows) error {
		var priority, n int
		if err := rows.Scan(&priority, &n); err != nil {
			return err
		}
		a.ByPriority[priority] = n
		return nil
	})
	if err != nil {
		return persistence.Response[persistence.AnalyticsRow]{}, err
	}

	err = s.conn().QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(completed), 0) FROM subtasks`,
	).Scan(&a.TotalSubtasks, &a.CompletedSubtasks)
	if err != nil {
		return persistence.Response[persistence.AnalyticsRow]{}, fmt.Errorf("failed to aggregate subtasks: %w", err)
	}

	return persistence.Response[persistence.AnalyticsRow]{
		Data:     a,
		Metadata: persistence.Metadata{Complexity: persistence.EstimateComplexity(a.TotalTasks, true), RowCount: a.TotalTasks},
	}, nil
}

// groupCount runs a GROUP BY query and hands each row to scan.
func groupCount(ctx context.Context, q querier, query string, scan func(rows *sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to group tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan group: %w", err)
		}
	}
	return rows.Err()
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, persistence.ErrNotFound)
	}
	return nil
}

// classify maps constraint violations to persistence.ErrConflict.
func classify(op string, err error) error {
	if errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) || errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
		return fmt.Errorf("failed to %s: %w: %w", op, persistence.ErrConflict, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func single(r persistence.TaskRow) persistence.Response[persistence.TaskRow] {
	return persistence.Response[persistence.TaskRow]{
		Data:     r,
		Metadata: persistence.Metadata{Complexity: persistence.EstimateComplexity(1, len(r.Subtasks) > 0 || len(r.Dependencies) > 0), RowCount: 1},
	}
}
