// Package identity maps raw participant identifiers to display identities
// through a two-tier profile lookup with a process-lifetime cache.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
	"github.com/schoolinbox/internal/repository"
)

// StudentSource probes the student profile store.
type StudentSource interface {
	GetStudent(ctx context.Context, id string) (*model.StudentProfile, error)
}

// StaffSource probes the staff profile store and backs cache pre-warming.
type StaffSource interface {
	GetStaff(ctx context.Context, id string) (*model.StaffProfile, error)
	ListStaff(ctx context.Context) ([]model.StaffProfile, error)
}

// Resolver resolves identifiers to participants. Resolve never fails outward:
// a lookup miss or store error degrades to a synthetic role=unknown identity.
// Every outcome is cached for the process lifetime; entries are never evicted
// (display names are assumed stable within a session). Concurrent duplicate
// resolutions of the same id are tolerated; last writer wins.
type Resolver struct {
	students StudentSource
	staff    StaffSource

	mu    sync.RWMutex
	cache map[string]model.Participant

	warmOnce sync.Once
}

func NewResolver(students StudentSource, staff StaffSource) *Resolver {
	return &Resolver{
		students: students,
		staff:    staff,
		cache:    make(map[string]model.Participant, 256),
	}
}

// Resolve returns the display identity for an identifier.
// Order: cache → student store → staff store → synthetic fallback.
func (r *Resolver) Resolve(ctx context.Context, id string) model.Participant {
	r.mu.RLock()
	p, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return p
	}
	p = r.lookup(ctx, id)
	r.mu.Lock()
	r.cache[id] = p
	r.mu.Unlock()
	return p
}

func (r *Resolver) lookup(ctx context.Context, id string) model.Participant {
	student, err := r.students.GetStudent(ctx, id)
	if err == nil {
		return student.Participant()
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("identity: student lookup id=%s: %v", id, err)
	}

	staff, err := r.staff.GetStaff(ctx, id)
	if err == nil {
		return staff.Participant()
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("identity: staff lookup id=%s: %v", id, err)
	}

	return model.Participant{ID: id, DisplayName: localPart(id), Role: model.RoleUnknown}
}

// Prewarm bulk-loads all staff identities into the cache. Runs the staff scan
// once per process; later calls are no-ops. A failed scan is non-fatal:
// identities fill in lazily through Resolve.
func (r *Resolver) Prewarm(ctx context.Context) {
	r.warmOnce.Do(func() {
		defer logger.DeferLogDuration("identity.Prewarm", time.Now())()
		list, err := r.staff.ListStaff(ctx)
		if err != nil {
			logger.Errorf("identity: prewarm staff: %v", err)
			return
		}
		r.mu.Lock()
		for _, p := range list {
			r.cache[p.ID] = p.Participant()
		}
		r.mu.Unlock()
		logger.Infof("identity: prewarmed %d staff identities", len(list))
	})
}

// Invalidate drops one cache entry. The engine never calls this; it is the
// boundary hook for the rare case of a display name changing mid-session.
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// Cached reports whether an identifier is already resolved.
func (r *Resolver) Cached(id string) (model.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cache[id]
	return p, ok
}

// localPart strips the domain from mail-shaped identifiers so the fallback
// display name reads "jdoe" instead of "jdoe@school.example".
func localPart(id string) string {
	if i := strings.Index(id, "@"); i > 0 {
		return id[:i]
	}
	return id
}
