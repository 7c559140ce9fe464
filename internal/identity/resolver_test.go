package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/schoolinbox/internal/model"
	"github.com/schoolinbox/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfiles struct {
	students map[string]model.StudentProfile
	staff    map[string]model.StaffProfile

	studentLookups int
	staffLookups   int
	listCalls      int
	failStudents   bool
}

func (f *fakeProfiles) GetStudent(_ context.Context, id string) (*model.StudentProfile, error) {
	f.studentLookups++
	if f.failStudents {
		return nil, errors.New("store unavailable")
	}
	if p, ok := f.students[id]; ok {
		return &p, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProfiles) GetStaff(_ context.Context, id string) (*model.StaffProfile, error) {
	f.staffLookups++
	if p, ok := f.staff[id]; ok {
		return &p, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProfiles) ListStaff(_ context.Context) ([]model.StaffProfile, error) {
	f.listCalls++
	out := make([]model.StaffProfile, 0, len(f.staff))
	for _, p := range f.staff {
		out = append(out, p)
	}
	return out, nil
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		students: map[string]model.StudentProfile{
			"s1@school.example": {ID: "s1@school.example", FirstName: "Mia", LastName: "Park"},
		},
		staff: map[string]model.StaffProfile{
			"t1@school.example": {ID: "t1@school.example", DisplayName: "Mr. Okafor"},
			"t2@school.example": {ID: "t2@school.example", DisplayName: "Ms. Reyes"},
		},
	}
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("student path", func(t *testing.T) {
		f := newFakeProfiles()
		r := NewResolver(f, f)
		p := r.Resolve(ctx, "s1@school.example")
		assert.Equal(t, "Mia Park", p.DisplayName)
		assert.Equal(t, model.RoleStudent, p.Role)
	})

	t.Run("staff path after student miss", func(t *testing.T) {
		f := newFakeProfiles()
		r := NewResolver(f, f)
		p := r.Resolve(ctx, "t1@school.example")
		assert.Equal(t, "Mr. Okafor", p.DisplayName)
		assert.Equal(t, model.RoleStaff, p.Role)
		assert.Equal(t, 1, f.studentLookups)
		assert.Equal(t, 1, f.staffLookups)
	})

	t.Run("fallback uses local part and unknown role", func(t *testing.T) {
		f := newFakeProfiles()
		r := NewResolver(f, f)
		p := r.Resolve(ctx, "ghost@school.example")
		assert.Equal(t, "ghost", p.DisplayName)
		assert.Equal(t, model.RoleUnknown, p.Role)
		assert.Equal(t, "ghost@school.example", p.ID)
	})

	t.Run("store error degrades, never fails outward", func(t *testing.T) {
		f := newFakeProfiles()
		f.failStudents = true
		r := NewResolver(f, f)
		p := r.Resolve(ctx, "t2@school.example")
		// student tier errored; staff tier still answers
		assert.Equal(t, model.RoleStaff, p.Role)
	})

	t.Run("second resolve is served from cache with no upstream lookup", func(t *testing.T) {
		f := newFakeProfiles()
		r := NewResolver(f, f)
		first := r.Resolve(ctx, "s1@school.example")
		lookupsAfterFirst := f.studentLookups + f.staffLookups
		second := r.Resolve(ctx, "s1@school.example")
		assert.Equal(t, first, second)
		assert.Equal(t, lookupsAfterFirst, f.studentLookups+f.staffLookups)
	})

	t.Run("fallback results are cached too", func(t *testing.T) {
		f := newFakeProfiles()
		r := NewResolver(f, f)
		r.Resolve(ctx, "ghost@school.example")
		before := f.studentLookups
		r.Resolve(ctx, "ghost@school.example")
		assert.Equal(t, before, f.studentLookups)
	})
}

func TestResolver_Prewarm(t *testing.T) {
	ctx := context.Background()
	f := newFakeProfiles()
	r := NewResolver(f, f)

	r.Prewarm(ctx)
	require.Equal(t, 1, f.listCalls)

	// Prewarmed staff resolve without touching either store.
	p := r.Resolve(ctx, "t1@school.example")
	assert.Equal(t, model.RoleStaff, p.Role)
	assert.Zero(t, f.studentLookups)
	assert.Zero(t, f.staffLookups)

	// Second prewarm is a no-op.
	r.Prewarm(ctx)
	assert.Equal(t, 1, f.listCalls)
}

func TestResolver_Invalidate(t *testing.T) {
	ctx := context.Background()
	f := newFakeProfiles()
	r := NewResolver(f, f)

	r.Resolve(ctx, "t1@school.example")
	_, ok := r.Cached("t1@school.example")
	require.True(t, ok)

	r.Invalidate("t1@school.example")
	_, ok = r.Cached("t1@school.example")
	assert.False(t, ok)

	// Next resolve hits the stores again.
	r.Resolve(ctx, "t1@school.example")
	assert.Equal(t, 2, f.studentLookups)
}
