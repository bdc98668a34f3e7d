package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

var ErrDirectoryNotFound = errors.New("directory record not found")

func (r *Repository) GetCourse(ctx context.Context, id string) (*domain.Course, error) {
	query := `
		SELECT tenant_id, name, duration_hours, color
		FROM courses WHERE id = $1
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	course := &domain.Course{
		ID: id,
	}

	dst := []any{&course.TenantID, &course.Name, &course.DurationHours, &course.Color}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, directoryError(err, "course", id)
	}

	return course, nil
}

func (r *Repository) GetInstructor(ctx context.Context, id string) (*domain.InstructorProfile, error) {
	query := `
		SELECT tenant_id, username, full_name, email
		FROM instructors WHERE id = $1
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	profile := &domain.InstructorProfile{
		ID: id,
	}

	dst := []any{&profile.TenantID, &profile.Username, &profile.FullName, &profile.Email}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, directoryError(err, "instructor", id)
	}

	return profile, nil
}

func (r *Repository) CreateCourse(ctx context.Context, course *domain.Course) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if course.ID == "" {
		course.ID = uuid.NewString()
	}

	query := `
		INSERT INTO courses (id, tenant_id, name, duration_hours, color)
		VALUES ($1, $2, $3, $4, $5)
	`

	args := []any{course.ID, course.TenantID, course.Name, course.DurationHours, course.Color}
	if _, err := r.dbpool.ExecContext(ctx, query, args...); err != nil {
		return translateError(err)
	}

	return nil
}

func (r *Repository) CreateInstructor(ctx context.Context, profile *domain.InstructorProfile) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	query := `
		INSERT INTO instructors (id, tenant_id, username, full_name, email)
		VALUES ($1, $2, $3, $4, $5)
	`

	args := []any{profile.ID, profile.TenantID, profile.Username, profile.FullName, profile.Email}
	if _, err := r.dbpool.ExecContext(ctx, query, args...); err != nil {
		return translateError(err)
	}

	return nil
}

func (r *Repository) ListCourses(ctx context.Context, tenantID string) ([]*domain.Course, error) {
	query := `
		SELECT id, tenant_id, name, duration_hours, color
		FROM courses WHERE tenant_id = $1 ORDER BY name
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := make([]*domain.Course, 0)
	for rows.Next() {
		course := &domain.Course{}
		if err := rows.Scan(&course.ID, &course.TenantID, &course.Name, &course.DurationHours, &course.Color); err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return courses, nil
}

func (r *Repository) ListInstructors(ctx context.Context, tenantID string) ([]*domain.InstructorProfile, error) {
	query := `
		SELECT id, tenant_id, username, full_name, email
		FROM instructors WHERE tenant_id = $1 ORDER BY username
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]*domain.InstructorProfile, 0)
	for rows.Next() {
		profile := &domain.InstructorProfile{}
		if err := rows.Scan(&profile.ID, &profile.TenantID, &profile.Username, &profile.FullName, &profile.Email); err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

func directoryError(err error, kind, id string) error {
	if errors.Is(translateError(err), domain.ErrEntryNotFound) || errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrDirectoryNotFound, kind, id)
	}
	return err
}
