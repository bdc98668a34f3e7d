package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgInvalidTextRepresent = "22P02"
)

// entryColumns 对应 scanEntry 的扫描顺序，ws 为 weekly_schedules 或同结构的 CTE
const entryColumns = `
	ws.id, ws.tenant_id, ws.year, ws.week_number, ws.day_of_week, ws.time_slot,
	ws.start_time, ws.end_time, ws.duration, ws.course_id, ws.instructor_id,
	ws.version, ws.created_at, ws.updated_at,
	c.id, c.tenant_id, c.name, c.duration_hours, c.color,
	i.id, i.tenant_id, i.username, i.full_name, i.email
`

const entryJoins = `
	JOIN courses c ON c.id = ws.course_id
	JOIN instructors i ON i.id = ws.instructor_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (*domain.ScheduleEntry, error) {
	entry := &domain.ScheduleEntry{
		Course:            &domain.Course{},
		InstructorProfile: &domain.InstructorProfile{},
	}

	dst := []any{
		&entry.ID, &entry.TenantID, &entry.Year, &entry.WeekNumber, &entry.DayOfWeek, &entry.TimeSlot,
		&entry.StartTime, &entry.EndTime, &entry.Duration, &entry.CourseID, &entry.InstructorID,
		&entry.Version, &entry.CreatedAt, &entry.UpdatedAt,
		&entry.Course.ID, &entry.Course.TenantID, &entry.Course.Name, &entry.Course.DurationHours, &entry.Course.Color,
		&entry.InstructorProfile.ID, &entry.InstructorProfile.TenantID, &entry.InstructorProfile.Username,
		&entry.InstructorProfile.FullName, &entry.InstructorProfile.Email,
	}
	if err := s.Scan(dst...); err != nil {
		return nil, err
	}

	return entry, nil
}

// translateError 把驱动错误转换为 domain 中的错误。
func translateError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrEntryNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrUniqueViolation, pgErr.ConstraintName)
		case pgInvalidTextRepresent:
			// id 不是合法的 uuid，这样的行不可能存在
			return domain.ErrEntryNotFound
		}
	}

	return err
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...any) ([]*domain.ScheduleEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*domain.ScheduleEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *Repository) ListWeek(ctx context.Context, tenantID string, week domain.Week) ([]*domain.ScheduleEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM weekly_schedules ws ` + entryJoins + `
		WHERE ws.tenant_id = $1 AND ws.year = $2 AND ws.week_number = $3
		ORDER BY ws.day_of_week, ws.time_slot, ws.created_at
	`

	return r.queryEntries(ctx, query, tenantID, week.Year, week.Number)
}

// FindInstructorDay 查询某讲师某天的所有条目，供唯一约束冲突后定位冲突行。
func (r *Repository) FindInstructorDay(ctx context.Context, tenantID string, week domain.Week, day int, instructorID string) ([]*domain.ScheduleEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM weekly_schedules ws ` + entryJoins + `
		WHERE ws.tenant_id = $1 AND ws.year = $2 AND ws.week_number = $3
			AND ws.day_of_week = $4 AND ws.instructor_id = $5
		ORDER BY ws.time_slot, ws.created_at
	`

	entries, err := r.queryEntries(ctx, query, tenantID, week.Year, week.Number, day, instructorID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextRepresent {
			return []*domain.ScheduleEntry{}, nil
		}
		return nil, err
	}

	return entries, nil
}

// InsertEntry 插入一行，忽略 entry 中的 id 和版本号，返回带联表数据的新行。
func (r *Repository) InsertEntry(ctx context.Context, entry *domain.ScheduleEntry) (*domain.ScheduleEntry, error) {
	query := `
		WITH ws AS (
			INSERT INTO weekly_schedules (
				id, tenant_id, year, week_number, day_of_week, time_slot,
				start_time, end_time, duration, course_id, instructor_id
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING *
		)
		SELECT ` + entryColumns + `
		FROM ws ` + entryJoins

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	args := []any{
		uuid.NewString(), entry.TenantID, entry.Year, entry.WeekNumber, entry.DayOfWeek, entry.TimeSlot,
		entry.StartTime, entry.EndTime, entry.Duration, entry.CourseID, entry.InstructorID,
	}
	created, err := scanEntry(r.dbpool.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// 插入成功但联表为空，说明课程或讲师在此期间被删除
			return nil, fmt.Errorf("insert schedule entry: course %s or instructor %s not found", entry.CourseID, entry.InstructorID)
		}
		return nil, translateError(err)
	}

	return created, nil
}

// UpdateEntry 只修改 patch 中非空的字段，版本号加一。
func (r *Repository) UpdateEntry(ctx context.Context, id string, patch domain.EntryPatch) (*domain.ScheduleEntry, error) {
	query := `
		WITH ws AS (
			UPDATE weekly_schedules
			SET
				day_of_week = COALESCE($2, day_of_week),
				time_slot = COALESCE($3, time_slot),
				start_time = COALESCE($4, start_time),
				end_time = COALESCE($5, end_time),
				duration = COALESCE($6, duration),
				course_id = COALESCE($7, course_id),
				version = version + 1,
				updated_at = NOW()
			WHERE id = $1
			RETURNING *
		)
		SELECT ` + entryColumns + `
		FROM ws ` + entryJoins

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	args := []any{id, patch.DayOfWeek, patch.TimeSlot, patch.StartTime, patch.EndTime, patch.Duration, patch.CourseID}
	updated, err := scanEntry(r.dbpool.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, translateError(err)
	}

	return updated, nil
}

func (r *Repository) DeleteEntry(ctx context.Context, id string) error {
	query := `
		DELETE FROM weekly_schedules WHERE id = $1
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, id)
	if err != nil {
		return translateError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrEntryNotFound
	}

	return nil
}

func (r *Repository) EntryExists(ctx context.Context, id string) (bool, error) {
	isExists := false

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT EXISTS (SELECT 1 FROM weekly_schedules WHERE id = $1)
	`
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(&isExists); err != nil {
		if errors.Is(translateError(err), domain.ErrEntryNotFound) {
			return false, nil
		}
		return false, err
	}

	return isExists, nil
}
