package dedup

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
	"github.com/fieldserve/workorder/internal/testutil"
)

// mockStore returns a fixed set of open jobs and records the query window.
type mockStore struct {
	mu        sync.Mutex
	jobs      []domain.Job
	err       error
	lastSince time.Time
}

func (m *mockStore) FindOpenJobs(ctx context.Context, orgID uuid.UUID, trade domain.Trade, since time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSince = since
	if m.err != nil {
		return nil, m.err
	}
	return m.jobs, nil
}

func (m *mockStore) getLastSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSince
}

func openJob(address string) domain.Job {
	return domain.Job{
		ID:          uuid.New(),
		OrgID:       uuid.New(),
		Trade:       domain.TradeHVAC,
		AddressText: address,
		Status:      domain.JobStatusPending,
	}
}

// TestFindDuplicates_SuffixVariantsMatch verifies that "St" and "Street"
// spellings of the same address are flagged.
func TestFindDuplicates_SuffixVariantsMatch(t *testing.T) {
	ctx := testutil.TestContext(t)

	existing := openJob("123 Main Street, Miami, FL 33101")
	store := &mockStore{jobs: []domain.Job{existing}}
	d := New(store)

	candidates, err := d.FindDuplicates(ctx, uuid.New(), domain.TradeHVAC, "123 Main St, Miami, FL 33101", uuid.Nil)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].JobID != existing.ID {
		t.Errorf("candidate job = %s, want %s", candidates[0].JobID, existing.ID)
	}
	if candidates[0].Reason == "" {
		t.Error("expected a human-readable reason")
	}
}

// TestFindDuplicates_DifferentAddressesPass verifies dissimilar addresses
// are not flagged.
func TestFindDuplicates_DifferentAddressesPass(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := &mockStore{jobs: []domain.Job{openJob("900 Biscayne Blvd, Miami, FL 33132")}}
	d := New(store)

	candidates, err := d.FindDuplicates(ctx, uuid.New(), domain.TradeHVAC, "45 Oak Avenue, Springfield, IL 62704", uuid.Nil)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(candidates))
	}
}

// TestFindDuplicates_ExcludesEditedJob verifies the edit flow does not
// self-match.
func TestFindDuplicates_ExcludesEditedJob(t *testing.T) {
	ctx := testutil.TestContext(t)

	existing := openJob("123 Main St, Miami, FL 33101")
	store := &mockStore{jobs: []domain.Job{existing}}
	d := New(store)

	candidates, err := d.FindDuplicates(ctx, uuid.New(), domain.TradeHVAC, "123 Main St, Miami, FL 33101", existing.ID)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected the edited job excluded, got %d candidates", len(candidates))
	}
}

// TestFindDuplicates_ClosedJobsIgnored verifies completed and archived jobs
// never count, even if the store returns them.
func TestFindDuplicates_ClosedJobsIgnored(t *testing.T) {
	ctx := testutil.TestContext(t)

	completed := openJob("123 Main St, Miami, FL 33101")
	completed.Status = domain.JobStatusCompleted
	archived := openJob("123 Main St, Miami, FL 33101")
	archived.Status = domain.JobStatusArchived

	store := &mockStore{jobs: []domain.Job{completed, archived}}
	d := New(store)

	candidates, err := d.FindDuplicates(ctx, uuid.New(), domain.TradeHVAC, "123 Main St, Miami, FL 33101", uuid.Nil)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected closed jobs ignored, got %d candidates", len(candidates))
	}
}

// TestFindDuplicates_RecencyWindow verifies the store is queried with
// now minus the configured window.
func TestFindDuplicates_RecencyWindow(t *testing.T) {
	ctx := testutil.TestContext(t)

	clock := testutil.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	store := &mockStore{}
	d := New(store).WithWindow(7 * 24 * time.Hour).WithClock(clock.Now)

	if _, err := d.FindDuplicates(ctx, uuid.New(), domain.TradeHVAC, "123 Main St", uuid.Nil); err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}

	want := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	if got := store.getLastSince(); !got.Equal(want) {
		t.Errorf("since = %s, want %s", got, want)
	}
}

// TestFindDuplicates_ContainmentBelowThreshold verifies that containment
// still flags a candidate when Jaccard alone falls short.
func TestFindDuplicates_ContainmentBelowThreshold(t *testing.T) {
	ctx := testutil.TestContext(t)

	existing := openJob("123 Main St, Suite 400, Miami, FL 33101, building B rear entrance")
	store := &mockStore{jobs: []domain.Job{existing}}
	d := New(store).WithThreshold(0.95)

	candidates, err := d.FindDuplicates(ctx, uuid.New(), domain.TradeHVAC, "123 Main St", uuid.Nil)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 containment candidate, got %d", len(candidates))
	}
	if candidates[0].Reason != "same trade, address containment" {
		t.Errorf("reason = %q", candidates[0].Reason)
	}
}

// TestFindDuplicates_StoreError verifies store failures surface to the
// caller instead of silently passing the check.
func TestFindDuplicates_StoreError(t *testing.T) {
	ctx := testutil.TestContext(t)

	store := &mockStore{err: errors.New("connection reset")}
	d := New(store)

	if _, err := d.FindDuplicates(ctx, uuid.New(), domain.TradeHVAC, "123 Main St", uuid.Nil); err == nil {
		t.Fatal("expected error from failing store")
	}
}

// TestSimilarity exercises the normalized token-set Jaccard rule.
func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"123 Main St", "123 Main Street", 1.0},
		{"123 Main St", "123 main st.", 1.0},
		{"123 Main St Apt 4B", "123 Main St", 1.0}, // unit dropped
		{"123 Main St", "456 Elm Rd", 0.0},
		{"", "123 Main St", 0.0},
		{"", "", 0.0},
	}

	for _, tc := range cases {
		if got := similarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("similarity(%q, %q) = %.3f, want %.3f", tc.a, tc.b, got, tc.want)
		}
	}
}

// TestNormalizeAddress covers suffix folding, unit stripping, punctuation,
// and token dedupe.
func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"123 Main Street", "123 main st"},
		{"123 Main St., Suite 200, Miami", "123 main st miami"},
		{"456 Oak Avenue Apt 9", "456 oak ave"},
		{"789 Elm Blvd, Elm Blvd", "789 elm blvd"},
	}

	for _, tc := range cases {
		if got := normalizeAddress(tc.in); got != tc.want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
