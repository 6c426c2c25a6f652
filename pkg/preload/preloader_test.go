package preload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/store"
)

type fakeFetcher struct {
	mu    sync.Mutex
	errs  map[string]error
	order []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{errs: make(map[string]error)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.order = append(f.order, url)
	err := f.errs[url]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []byte("bytes:" + url), nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func audioPoi(id string, priority int, url string) pkg.POI {
	return pkg.POI{
		ID:        id,
		Name:      id,
		Lat:       10.759,
		Lng:       106.705,
		Priority:  priority,
		AudioURLs: map[string]string{"en": url},
	}
}

func newPreloader(fetcher Fetcher) (*Preloader, *MemoryStore, store.KV) {
	assets := NewMemoryStore()
	kv := store.NewMemoryKV()
	p := New(DefaultConfig(), assets, fetcher, kv, nil)
	return p, assets, kv
}

func TestDeduplicatesAndCountsCached(t *testing.T) {
	fetcher := newFakeFetcher()
	p, assets, _ := newPreloader(fetcher)

	// 10 POIs over 8 distinct URLs: two pairs share an asset.
	var pois []pkg.POI
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://cdn.example.com/a%d.mp3", i)
	}
	pois = append(pois,
		audioPoi("p0", 1, urls[0]),
		audioPoi("p1", 1, urls[0]),
		audioPoi("p2", 1, urls[1]),
		audioPoi("p3", 1, urls[1]),
	)
	for i := 2; i < 8; i++ {
		pois = append(pois, audioPoi(fmt.Sprintf("p%d", i+2), 1, urls[i]))
	}

	// Three target URLs are already in the cache.
	for _, u := range urls[:3] {
		if err := assets.Put(u, []byte("cached")); err != nil {
			t.Fatal(err)
		}
	}

	var last pkg.PreloadProgress
	result := p.Preload(context.Background(), pois, Options{
		Language:   "en",
		PreloadAll: true,
		OnProgress: func(pr pkg.PreloadProgress) { last = pr },
	})

	if result.AlreadyCachedCount != 3 {
		t.Fatalf("expected alreadyCached=3, got %d", result.AlreadyCachedCount)
	}
	if result.SuccessCount != 5 {
		t.Fatalf("expected success=5, got %d", result.SuccessCount)
	}
	if result.FailedCount != 0 {
		t.Fatalf("expected failed=0, got %d", result.FailedCount)
	}
	if last.Total != 8 {
		t.Fatalf("total must count distinct URLs once, got %d", last.Total)
	}
	if len(result.PreloadedIDs) != 10 {
		t.Fatalf("all 10 POIs resolve to a preloaded asset, got %v", result.PreloadedIDs)
	}
	if got := len(fetcher.fetched()); got != 5 {
		t.Fatalf("cached URLs must not be re-fetched, %d fetches", got)
	}
}

func TestRadiusRestrictsSelection(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, _ := newPreloader(fetcher)

	pos := pkg.SmoothedPosition{Lat: 10.759, Lng: 106.705}
	near := audioPoi("near", 1, "https://cdn.example.com/near.mp3")
	far := audioPoi("far", 1, "https://cdn.example.com/far.mp3")
	far.Lat = pos.Lat + 0.01 // about 1.1km north

	result := p.Preload(context.Background(), []pkg.POI{near, far}, Options{
		Language:        "en",
		CurrentPosition: &pos,
		RadiusM:         500,
	})
	if result.SuccessCount != 1 {
		t.Fatalf("only the POI inside the radius should be fetched, got %d", result.SuccessCount)
	}

	// preloadAll overrides the radius restriction.
	result = p.Preload(context.Background(), []pkg.POI{near, far}, Options{
		Language:        "en",
		CurrentPosition: &pos,
		RadiusM:         500,
		PreloadAll:      true,
	})
	if result.SuccessCount+result.AlreadyCachedCount != 2 {
		t.Fatalf("preloadAll must cover both POIs, got %+v", result)
	}
}

func TestPriorityOrdersFetches(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, _ := newPreloader(fetcher)

	pois := []pkg.POI{
		audioPoi("low", 1, "https://cdn.example.com/low.mp3"),
		audioPoi("high", 9, "https://cdn.example.com/high.mp3"),
		audioPoi("mid", 5, "https://cdn.example.com/mid.mp3"),
	}
	p.Preload(context.Background(), pois, Options{Language: "en", PreloadAll: true})

	want := []string{
		"https://cdn.example.com/high.mp3",
		"https://cdn.example.com/mid.mp3",
		"https://cdn.example.com/low.mp3",
	}
	got := fetcher.fetched()
	if len(got) != len(want) {
		t.Fatalf("expected %d fetches, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fetch %d: want %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLanguageFallbackChain(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, _ := newPreloader(fetcher)

	localized := pkg.POI{
		ID: "localized", Name: "localized", Lat: 10.759, Lng: 106.705,
		AudioURLs: map[string]string{"vi": "https://cdn.example.com/vi.mp3"},
	}
	englishOnly := audioPoi("english-only", 1, "https://cdn.example.com/en.mp3")
	silent := pkg.POI{ID: "silent", Name: "silent", Lat: 10.759, Lng: 106.705}

	var last pkg.PreloadProgress
	result := p.Preload(context.Background(), []pkg.POI{localized, englishOnly, silent}, Options{
		Language:   "vi",
		PreloadAll: true,
		OnProgress: func(pr pkg.PreloadProgress) { last = pr },
	})

	if result.SuccessCount != 2 {
		t.Fatalf("expected 2 fetched assets, got %+v", result)
	}
	// The POI with no audio at all is excluded from the total, not failed.
	if last.Total != 2 || result.FailedCount != 0 {
		t.Fatalf("silent POI must not count, total=%d failed=%d", last.Total, result.FailedCount)
	}
}

func TestFetchFailureDoesNotAbortBatch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["https://cdn.example.com/bad.mp3"] = errors.New("503")
	p, _, _ := newPreloader(fetcher)

	pois := []pkg.POI{
		audioPoi("bad", 9, "https://cdn.example.com/bad.mp3"),
		audioPoi("good", 1, "https://cdn.example.com/good.mp3"),
	}
	result := p.Preload(context.Background(), pois, Options{Language: "en", PreloadAll: true})

	if result.FailedCount != 1 || result.SuccessCount != 1 {
		t.Fatalf("expected failed=1 success=1, got %+v", result)
	}
	for _, id := range result.PreloadedIDs {
		if id == "bad" {
			t.Fatal("failed POI must not be reported as preloaded")
		}
	}
}

func TestCancellationStopsNewFetches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher()
	p, assets, _ := newPreloader(&cancelAfterFirst{inner: fetcher, cancel: cancel})

	var pois []pkg.POI
	for i := 0; i < 5; i++ {
		pois = append(pois, audioPoi(fmt.Sprintf("p%d", i), 5-i, fmt.Sprintf("https://cdn.example.com/%d.mp3", i)))
	}
	result := p.Preload(ctx, pois, Options{Language: "en", PreloadAll: true})

	if result.SuccessCount != 1 {
		t.Fatalf("only the in-flight fetch completes after cancel, got %+v", result)
	}
	// The cached asset is not rolled back.
	if !assets.Has("https://cdn.example.com/0.mp3") {
		t.Fatal("completed asset must stay cached after cancellation")
	}
}

type cancelAfterFirst struct {
	inner  *fakeFetcher
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelAfterFirst) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := c.inner.Fetch(ctx, url)
	c.once.Do(c.cancel)
	return data, err
}

func TestSilentWorkerResolvesOptimistically(t *testing.T) {
	fetcher := newFakeFetcher()
	assets := NewMemoryStore()
	kv := store.NewMemoryKV()
	cfg := DefaultConfig()
	cfg.WorkerTimeout = 10 * time.Millisecond
	p := New(cfg, assets, fetcher, kv, nil)
	p.AttachWorker() // nobody services the channel

	result := p.Preload(context.Background(), []pkg.POI{
		audioPoi("p1", 1, "https://cdn.example.com/a.mp3"),
	}, Options{Language: "en", PreloadAll: true})

	if result.SuccessCount != 1 || result.FailedCount != 0 {
		t.Fatalf("silent worker must resolve optimistically, got %+v", result)
	}
	if len(fetcher.fetched()) != 0 {
		t.Fatal("delegated fetch must not also run directly")
	}
}

func TestWorkerErrorCountsAsFailed(t *testing.T) {
	fetcher := newFakeFetcher()
	assets := NewMemoryStore()
	kv := store.NewMemoryKV()
	p := New(DefaultConfig(), assets, fetcher, kv, nil)
	requests := p.AttachWorker()

	go func() {
		for req := range requests {
			req.Done <- errors.New("worker: quota exceeded")
		}
	}()

	result := p.Preload(context.Background(), []pkg.POI{
		audioPoi("p1", 1, "https://cdn.example.com/a.mp3"),
	}, Options{Language: "en", PreloadAll: true})

	if result.FailedCount != 1 {
		t.Fatalf("worker error must count as failed, got %+v", result)
	}
}

func TestStatusMergeNeverShrinks(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, _ := newPreloader(fetcher)

	first := []pkg.POI{audioPoi("a", 1, "https://cdn.example.com/a.mp3")}
	second := []pkg.POI{audioPoi("b", 1, "https://cdn.example.com/b.mp3")}

	p.Preload(context.Background(), first, Options{Language: "en", PreloadAll: true})
	p.Preload(context.Background(), second, Options{Language: "en", PreloadAll: true})

	status := p.Status()
	ids := make(map[string]bool)
	for _, id := range status.PreloadedAudioIDs {
		ids[id] = true
	}
	if !ids["a"] || !ids["b"] {
		t.Fatalf("status must keep previously preloaded ids, got %v", status.PreloadedAudioIDs)
	}
}

func TestImagePassIsIndependent(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, _ := newPreloader(fetcher)

	poi := audioPoi("p1", 1, "https://cdn.example.com/a.mp3")
	poi.ImageURL = "https://cdn.example.com/a.jpg"
	noImage := audioPoi("p2", 1, "https://cdn.example.com/b.mp3")

	result := p.PreloadImages(context.Background(), []pkg.POI{poi, noImage}, Options{PreloadAll: true})
	if result.SuccessCount != 1 {
		t.Fatalf("expected 1 image fetched, got %+v", result)
	}
	status := p.Status()
	if len(status.PreloadedImageIDs) != 1 || status.PreloadedImageIDs[0] != "p1" {
		t.Fatalf("image ids must be tracked separately, got %v", status.PreloadedImageIDs)
	}
}

func TestShouldPreloadPolicy(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, kv := newPreloader(fetcher)
	pois := []pkg.POI{audioPoi("a", 1, "https://cdn.example.com/a.mp3")}
	now := time.Now()

	if !p.ShouldPreload(pois, now) {
		t.Fatal("never-preloaded must report true")
	}

	p.Preload(context.Background(), pois, Options{Language: "en", PreloadAll: true})
	if p.ShouldPreload(pois, now) {
		t.Fatal("fresh preload with unchanged POI count must report false")
	}

	// POI count changed.
	more := append(pois, audioPoi("b", 1, "https://cdn.example.com/b.mp3"))
	if !p.ShouldPreload(more, now) {
		t.Fatal("changed POI count must report true")
	}

	// Stale run.
	var status pkg.PreloadStatus
	if err := kv.Get(store.KeyPreloadStatus, &status); err != nil {
		t.Fatal(err)
	}
	status.LastPreload = now.Add(-25 * time.Hour)
	if err := kv.Put(store.KeyPreloadStatus, &status); err != nil {
		t.Fatal(err)
	}
	if !p.ShouldPreload(pois, now) {
		t.Fatal("stale preload must report true")
	}
}
