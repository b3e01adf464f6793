package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

func newJob(id, session string) *domain.Job {
	return &domain.Job{
		ID:         domain.ID(id),
		SessionID:  session,
		Frameworks: []domain.Framework{domain.FrameworkSOC2},
		Status:     domain.StatusPending,
		StartedAt:  time.Now().UTC(),
	}
}

func TestJobRepo_CreateGetDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()

	if err := repo.Create(ctx, newJob("a1", "s1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newJob("a1", "s1")); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := repo.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Frameworks[0] = domain.FrameworkGDPR
	again, _ := repo.Get(ctx, "a1")
	if again.Frameworks[0] != domain.FrameworkSOC2 {
		t.Fatal("repository state must not alias returned copies")
	}
}

func TestJobRepo_UpdateAppliesNonNilFields(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	_ = repo.Create(ctx, newJob("a1", "s1"))

	err := repo.Update(ctx, "a1", domain.JobUpdate{
		Status:   domain.StatusPtr(domain.StatusProcessing),
		Progress: domain.Float64Ptr(150),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := repo.Update(ctx, "a1", domain.JobUpdate{CurrentStep: domain.StringPtr("Loading")}); err != nil {
		t.Fatalf("update: %v", err)
	}

	j, _ := repo.Get(ctx, "a1")
	if j.Status != domain.StatusProcessing || j.Progress != 100 || j.CurrentStep != "Loading" {
		t.Fatalf("unexpected job %+v", j)
	}
	if j.CompletedAt != nil {
		t.Fatal("completed_at must stay unset while processing")
	}

	if err := repo.Update(ctx, "a1", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusCompleted)}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	j, _ = repo.Get(ctx, "a1")
	if j.CompletedAt == nil {
		t.Fatal("completing must stamp completed_at")
	}
}

func TestJobRepo_UpdateUnknownIsNoop(t *testing.T) {
	repo := NewJobRepo()
	if err := repo.Update(context.Background(), "ghost", domain.JobUpdate{Progress: domain.Float64Ptr(10)}); err != nil {
		t.Fatalf("expected nil for unknown id, got %v", err)
	}
	if _, err := repo.Get(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update must not create jobs, Get = %v", err)
	}
}

func TestJobRepo_RejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	_ = repo.Create(ctx, newJob("a1", "s1"))
	_ = repo.Update(ctx, "a1", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusProcessing)})
	_ = repo.Update(ctx, "a1", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusCompleted)})

	err := repo.Update(ctx, "a1", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusProcessing)})
	var te *domain.TransitionError
	if !errors.As(err, &te) || te.From != domain.StatusCompleted || te.To != domain.StatusProcessing {
		t.Fatalf("expected TransitionError completed->processing, got %v", err)
	}
	j, _ := repo.Get(ctx, "a1")
	if j.Status != domain.StatusCompleted {
		t.Fatalf("rejected update must not change state, got %s", j.Status)
	}
}

func TestJobRepo_ConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	_ = repo.Create(ctx, newJob("a1", "s1"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Update(ctx, "a1", domain.JobUpdate{
				ExpectStatus: domain.StatusPtr(domain.StatusPending),
				Status:       domain.StatusPtr(domain.StatusProcessing),
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", wins)
	}
}

func TestJobRepo_ListBySessionNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	older := newJob("a1", "s1")
	older.StartedAt = time.Now().Add(-time.Hour)
	_ = repo.Create(ctx, older)
	_ = repo.Create(ctx, newJob("a2", "s1"))
	_ = repo.Create(ctx, newJob("b1", "s2"))

	jobs, err := repo.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "a2" || jobs[1].ID != "a1" {
		t.Fatalf("unexpected order %+v", jobs)
	}
}
