package smoother

import (
	"testing"
	"time"

	"github.com/waytour/waytour/pkg"
)

func sampleAt(lat, lng float64, ts time.Time) pkg.PositionSample {
	return pkg.PositionSample{Lat: lat, Lng: lng, Timestamp: ts, AccuracyM: 10}
}

func TestSmoothedStaysInsideBoundingBox(t *testing.T) {
	s := New(DefaultConfig(), nil)
	base := time.Now()

	coords := [][2]float64{
		{10.7590, 106.7050},
		{10.7592, 106.7053},
		{10.7588, 106.7049},
		{10.7595, 106.7056},
		{10.7591, 106.7052},
		{10.7593, 106.7051},
		{10.7589, 106.7054},
	}

	for i, c := range coords {
		got := s.AddSample(sampleAt(c[0], c[1], base.Add(time.Duration(i)*time.Second)))

		// Bounding box of the last min(i+1, window) samples.
		start := 0
		if i+1 > 5 {
			start = i + 1 - 5
		}
		minLat, maxLat := coords[start][0], coords[start][0]
		minLng, maxLng := coords[start][1], coords[start][1]
		for _, w := range coords[start : i+1] {
			if w[0] < minLat {
				minLat = w[0]
			}
			if w[0] > maxLat {
				maxLat = w[0]
			}
			if w[1] < minLng {
				minLng = w[1]
			}
			if w[1] > maxLng {
				maxLng = w[1]
			}
		}
		if got.Lat < minLat || got.Lat > maxLat || got.Lng < minLng || got.Lng > maxLng {
			t.Fatalf("sample %d: smoothed (%f,%f) outside window bbox", i, got.Lat, got.Lng)
		}
	}
}

func TestRejectedSampleLeavesSmoothedUnchanged(t *testing.T) {
	s := New(DefaultConfig(), nil)
	base := time.Now()

	before := s.AddSample(sampleAt(10.759, 106.705, base))

	bad := pkg.PositionSample{Lat: 99, Lng: 99, Timestamp: base.Add(time.Second), AccuracyM: 120}
	after := s.AddSample(bad)

	if after != before {
		t.Fatalf("rejected sample changed smoothed position: %v vs %v", after, before)
	}
}

func TestRejectionBeforeHistoryReturnsRawFix(t *testing.T) {
	s := New(DefaultConfig(), nil)

	bad := pkg.PositionSample{Lat: 10.1, Lng: 106.1, Timestamp: time.Now(), AccuracyM: 500}
	got := s.AddSample(bad)
	if got.Lat != 10.1 || got.Lng != 106.1 {
		t.Fatalf("expected raw passthrough before first acceptance, got %v", got)
	}
	if _, ok := s.Last(); ok {
		t.Fatal("rejected sample must not become history")
	}
}

func TestOldSamplesEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAge = 10 * time.Second
	s := New(cfg, nil)
	base := time.Now()

	s.AddSample(sampleAt(10.0, 106.0, base))
	// 30s later: the first sample is stale and must not pull the average.
	got := s.AddSample(sampleAt(11.0, 107.0, base.Add(30*time.Second)))

	if got.Lat != 11.0 || got.Lng != 107.0 {
		t.Fatalf("stale sample still in window: %v", got)
	}
}

func TestWeightedFavorsRecent(t *testing.T) {
	plain := New(DefaultConfig(), nil)
	cfg := DefaultConfig()
	cfg.Weighted = true
	weighted := New(cfg, nil)

	base := time.Now()
	for i, lat := range []float64{10.0, 10.0, 10.0, 10.0, 10.5} {
		ts := base.Add(time.Duration(i) * time.Second)
		plain.AddSample(sampleAt(lat, 106.0, ts))
		weighted.AddSample(sampleAt(lat, 106.0, ts))
	}

	p, _ := plain.Last()
	w, _ := weighted.Last()
	if w.Lat <= p.Lat {
		t.Fatalf("weighted mean %f should sit closer to the newest fix than plain mean %f", w.Lat, p.Lat)
	}
}

func TestWindowTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 2
	s := New(cfg, nil)
	base := time.Now()

	s.AddSample(sampleAt(10.0, 106.0, base))
	s.AddSample(sampleAt(20.0, 106.0, base.Add(time.Second)))
	got := s.AddSample(sampleAt(30.0, 106.0, base.Add(2*time.Second)))

	// Window of 2: mean of 20 and 30, the 10.0 fix is gone.
	if got.Lat != 25.0 {
		t.Fatalf("expected mean 25.0 over 2-sample window, got %f", got.Lat)
	}
}
