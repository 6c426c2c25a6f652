package position

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/waytour/waytour/pkg"
)

func TestScriptedSourceEmitsInOrder(t *testing.T) {
	src := NewScriptedSource(time.Millisecond)
	now := time.Now()
	src.AddFix(pkg.PositionSample{Lat: 10.759, Lng: 106.705, Timestamp: now})
	src.AddError(pkg.SignalError{Kind: pkg.SignalTimeout, Message: "gps timeout"})
	src.AddFix(pkg.PositionSample{Lat: 10.760, Lng: 106.706, Timestamp: now.Add(time.Second)})

	fixes, errs, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Unsubscribe()

	var got []pkg.PositionSample
	var sigErrs []pkg.SignalError
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case fix, ok := <-fixes:
			if !ok {
				t.Fatalf("fix channel closed early, got %d fixes", len(got))
			}
			got = append(got, fix)
		case e := <-errs:
			sigErrs = append(sigErrs, e)
		case <-deadline:
			t.Fatalf("timed out waiting for fixes, got %d", len(got))
		}
	}

	if got[0].Lat != 10.759 || got[1].Lat != 10.760 {
		t.Fatalf("fixes out of order: %v", got)
	}
	if len(sigErrs) != 1 || sigErrs[0].Kind != pkg.SignalTimeout {
		t.Fatalf("expected one timeout error, got %v", sigErrs)
	}
}

func TestScriptedSourceUnsubscribeCloses(t *testing.T) {
	src := NewScriptedSource(time.Hour) // never ticks
	src.AddFix(pkg.PositionSample{Lat: 1, Lng: 2})

	fixes, _, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	src.Unsubscribe()

	select {
	case _, ok := <-fixes:
		if ok {
			t.Fatal("expected closed channel after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fix channel never closed")
	}
}

func TestReplaySourceHonorsGaps(t *testing.T) {
	base := time.Unix(1700000000, 0)
	samples := []pkg.PositionSample{
		{Lat: 10.759, Lng: 106.705, Timestamp: base},
		{Lat: 10.760, Lng: 106.706, Timestamp: base.Add(time.Second)},
		{Lat: 10.761, Lng: 106.707, Timestamp: base.Add(2 * time.Second)},
	}
	data, err := json.Marshal(samples)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "fixes.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	// 100x speedup turns 1s gaps into 10ms.
	src := NewReplaySource(path, 100)
	fixes, _, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Unsubscribe()

	start := time.Now()
	var got []pkg.PositionSample
	for fix := range fixes {
		got = append(got, fix)
	}
	elapsed := time.Since(start)

	if len(got) != 3 {
		t.Fatalf("expected 3 replayed fixes, got %d", len(got))
	}
	if got[2].Lat != 10.761 {
		t.Fatalf("fixes out of order: %v", got)
	}
	if elapsed < 15*time.Millisecond {
		t.Fatalf("replay ignored recorded gaps, finished in %v", elapsed)
	}
	// Timestamps are restamped to wall clock for downstream age checks.
	if time.Since(got[0].Timestamp) > time.Minute {
		t.Fatal("replayed fixes must carry fresh timestamps")
	}
}

func TestReplaySourceMissingFile(t *testing.T) {
	src := NewReplaySource("/nonexistent/fixes.json", 1)
	if _, _, err := src.Subscribe(context.Background()); err == nil {
		t.Fatal("expected error for missing fix log")
	}
}
