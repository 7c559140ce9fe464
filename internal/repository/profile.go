package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
)

// ProfileRepository reads the student and staff profile stores. Used only by
// identity resolution; list rendering never touches these tables directly.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) GetStudent(ctx context.Context, id string) (*model.StudentProfile, error) {
	defer logger.DeferLogDuration("profile.GetStudent", time.Now())()
	p := &model.StudentProfile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(first_name,''), COALESCE(last_name,'')
		 FROM students WHERE id = $1`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetStudent: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) GetStaff(ctx context.Context, id string) (*model.StaffProfile, error) {
	defer logger.DeferLogDuration("profile.GetStaff", time.Now())()
	p := &model.StaffProfile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(display_name,'') FROM staff WHERE id = $1`, id,
	).Scan(&p.ID, &p.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetStaff: %w", err)
	}
	return p, nil
}

// ListStaff returns the whole staff directory, used both to pre-warm the
// identity cache and to back the new-conversation multi-select.
func (r *ProfileRepository) ListStaff(ctx context.Context) ([]model.StaffProfile, error) {
	defer logger.DeferLogDuration("profile.ListStaff", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, COALESCE(display_name,'') FROM staff ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.ListStaff query: %w", err)
	}
	defer rows.Close()

	list := make([]model.StaffProfile, 0, 64)
	for rows.Next() {
		var p model.StaffProfile
		if err := rows.Scan(&p.ID, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("profileRepo.ListStaff scan: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profileRepo.ListStaff rows: %w", err)
	}
	return list, nil
}
