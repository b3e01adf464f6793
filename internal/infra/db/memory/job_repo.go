package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// JobRepo keeps jobs in process memory. Jobs live until the process exits.
type JobRepo struct {
	mu   sync.RWMutex
	jobs map[domain.ID]*domain.Job
	now  func() time.Time
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[domain.ID]*domain.Job), now: time.Now}
}

func (r *JobRepo) Create(_ context.Context, j *domain.Job) error {
	if err := domain.ValidateStatus(j.Status); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; ok {
		return domain.ErrDuplicateID
	}
	r.jobs[j.ID] = j.Clone()
	return nil
}

func (r *JobRepo) Get(_ context.Context, id domain.ID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

// Update applies u under the write lock so concurrent claims serialise.
// Unknown ids are ignored.
func (r *JobRepo) Update(_ context.Context, id domain.ID, u domain.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil
	}
	next := j.Clone()
	if err := u.Apply(next, r.now()); err != nil {
		return err
	}
	r.jobs[id] = next
	return nil
}

func (r *JobRepo) ListBySession(_ context.Context, sessionID string) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Job, 0)
	for _, j := range r.jobs {
		if j.SessionID == sessionID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	return out, nil
}
