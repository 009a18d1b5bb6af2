package removalcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"vqaexplain/internal/logging"
	"vqaexplain/internal/services"
)

func writeResult(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "car.jpg"), []byte("removed"), 0o644); err != nil {
		t.Fatalf("write result: %v", err)
	}
}

func TestEnsureComputesOnce(t *testing.T) {
	cache := New(t.TempDir(), logging.NewNop())
	key := Key{ImageStem: "car", Object: "car"}
	var calls int

	compute := func(_ context.Context, staging string) error {
		calls++
		if err := os.WriteFile(filepath.Join(staging, "car.jpg"), []byte("removed"), 0o644); err != nil {
			return err
		}
		return nil
	}

	dir, computed, err := cache.Ensure(context.Background(), key, compute)
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if !computed || dir != filepath.Join(cache.Root(), "car", "car") {
		t.Fatalf("unexpected first result dir=%q computed=%v", dir, computed)
	}

	again, computed, err := cache.Ensure(context.Background(), key, compute)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if computed || again != dir {
		t.Fatalf("second Ensure should reuse the result, computed=%v dir=%q", computed, again)
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
	data, err := os.ReadFile(cache.Path(key, "car.jpg"))
	if err != nil || string(data) != "removed" {
		t.Fatalf("unexpected cached content %q err=%v", data, err)
	}
}

func TestEnsureConcurrentClaimsComputeOnce(t *testing.T) {
	root := t.TempDir()
	key := Key{ImageStem: "street", Object: "traffic light"}
	var calls atomic.Int32

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache := New(root, logging.NewNop())
			_, _, err := cache.Ensure(context.Background(), key, func(_ context.Context, staging string) error {
				calls.Add(1)
				return os.WriteFile(filepath.Join(staging, "street.jpg"), []byte("x"), 0o644)
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Ensure: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("compute ran %d times, want 1", calls.Load())
	}
}

func TestFailedComputeLeavesNoResult(t *testing.T) {
	cache := New(t.TempDir(), logging.NewNop())
	key := Key{ImageStem: "car", Object: "car"}
	boom := errors.New("backend down")

	_, _, err := cache.Ensure(context.Background(), key, func(_ context.Context, staging string) error {
		writeResult(t, staging)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if cache.Done(key) {
		t.Fatal("failed computation must not publish a result")
	}
	leftovers, _ := filepath.Glob(filepath.Join(cache.Root(), "car", ".car"+stagingMarker+"*"))
	if len(leftovers) != 0 {
		t.Fatalf("staging directories left behind: %v", leftovers)
	}
}

func TestEmptyStagingIsNotPublished(t *testing.T) {
	cache := New(t.TempDir(), logging.NewNop())
	key := Key{ImageStem: "car", Object: "car"}
	_, _, err := cache.Ensure(context.Background(), key, func(context.Context, string) error { return nil })
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if cache.Done(key) {
		t.Fatal("empty result must not be published")
	}
}

func TestClaimRemovesStaleStaging(t *testing.T) {
	cache := New(t.TempDir(), logging.NewNop())
	key := Key{ImageStem: "car", Object: "car"}
	stale := filepath.Join(cache.Root(), "car", ".car"+stagingMarker+"crashed")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}

	claim, err := cache.Claim(context.Background(), key)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	defer claim.Release()
	if claim.Status != Claimed {
		t.Fatalf("unexpected status %s", claim.Status)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale staging dir should be removed, stat err=%v", err)
	}
}

func TestClaimRejectsEmptyKey(t *testing.T) {
	cache := New(t.TempDir(), logging.NewNop())
	if _, err := cache.Claim(context.Background(), Key{ImageStem: "car"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEntriesAndClear(t *testing.T) {
	cache := New(t.TempDir(), logging.NewNop())
	for _, key := range []Key{{"car", "car"}, {"car", "person"}, {"dog", "ball"}} {
		_, _, err := cache.Ensure(context.Background(), key, func(_ context.Context, staging string) error {
			writeResult(t, staging)
			return nil
		})
		if err != nil {
			t.Fatalf("Ensure %s: %v", key, err)
		}
	}

	entries, err := cache.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 || entries[0].Key.String() != "car/car" || entries[2].Key.String() != "dog/ball" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Files != 1 || entries[0].SizeBytes != int64(len("removed")) {
		t.Fatalf("unexpected summary %+v", entries[0])
	}

	if err := cache.Remove(context.Background(), Key{"car", "person"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if cache.Done(Key{"car", "person"}) {
		t.Fatal("entry should be gone after Remove")
	}

	removed, err := cache.Clear(context.Background())
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("Clear removed %d, want 2", removed)
	}
	entries, _ = cache.Entries()
	if len(entries) != 0 {
		t.Fatalf("expected empty cache, got %+v", entries)
	}
}

func TestEntriesMissingRoot(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "absent"), logging.NewNop())
	entries, err := cache.Entries()
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected no entries, got %v err=%v", entries, err)
	}
}
