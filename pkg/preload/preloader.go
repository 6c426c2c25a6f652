package preload

import (
	"context"
	"sort"
	"time"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/geo"
	"github.com/waytour/waytour/pkg/logx"
	"github.com/waytour/waytour/pkg/store"
)

// Config controls preloader behavior
type Config struct {
	RadiusM       float64       `json:"radius_m"`       // Selection radius around the current position
	WorkerTimeout time.Duration `json:"worker_timeout"` // How long to wait for a delegate answer
	RepreloadAge  time.Duration `json:"re_preload_age"` // Staleness threshold for ShouldPreload
}

// DefaultConfig returns default preloader configuration
func DefaultConfig() Config {
	return Config{
		RadiusM:       500.0,
		WorkerTimeout: 30 * time.Second,
		RepreloadAge:  24 * time.Hour,
	}
}

// DelegateRequest asks an external fetch worker to pull url into the cache.
// The worker answers on Done; nil means fetched and stored.
type DelegateRequest struct {
	URL  string
	Done chan error
}

// Options selects and parameterizes one preload pass.
type Options struct {
	Language        string
	CurrentPosition *pkg.SmoothedPosition
	RadiusM         float64 // 0 means the configured default
	PreloadAll      bool
	OnProgress      func(pkg.PreloadProgress)
}

// Result summarizes one preload pass.
type Result struct {
	SuccessCount       int      `json:"success_count"`
	FailedCount        int      `json:"failed_count"`
	AlreadyCachedCount int      `json:"already_cached_count"`
	PreloadedIDs       []string `json:"preloaded_ids"`
}

// Preloader pulls narration assets into the local cache ahead of playback.
// Fetches are delegated to an external worker when one is attached; a worker
// that never answers within the timeout is assumed to have done the job.
type Preloader struct {
	config   Config
	assets   AssetStore
	fetcher  Fetcher
	kv       store.KV
	logger   *logx.Logger
	delegate chan DelegateRequest
}

// New creates a preloader. kv persists the PreloadStatus record.
func New(config Config, assets AssetStore, fetcher Fetcher, kv store.KV, logger *logx.Logger) *Preloader {
	if config.RadiusM <= 0 {
		config.RadiusM = 500.0
	}
	if config.WorkerTimeout <= 0 {
		config.WorkerTimeout = 30 * time.Second
	}
	if config.RepreloadAge <= 0 {
		config.RepreloadAge = 24 * time.Hour
	}
	return &Preloader{
		config:  config,
		assets:  assets,
		fetcher: fetcher,
		kv:      kv,
		logger:  logger,
	}
}

// AttachWorker hands fetch+store work to an external worker over the
// returned channel. Call before the first Preload.
func (p *Preloader) AttachWorker() <-chan DelegateRequest {
	p.delegate = make(chan DelegateRequest, 16)
	return p.delegate
}

// Preload pulls the audio assets for the selected POIs into the cache.
// Cancelling the context stops issuing new fetches; already-cached assets
// are never rolled back.
func (p *Preloader) Preload(ctx context.Context, pois []pkg.POI, opts Options) Result {
	selected := p.selectPois(pois, opts)

	// One URL per POI via the language fallback chain, de-duplicated so a
	// shared asset is fetched once.
	urls := make([]string, 0, len(selected))
	urlPois := make(map[string][]string)
	for _, poi := range selected {
		url, ok := poi.AudioURL(opts.Language)
		if !ok {
			if p.logger != nil {
				p.logger.Warn("poi has no usable audio", "poi_id", poi.ID, "language", opts.Language)
			}
			continue
		}
		if _, seen := urlPois[url]; !seen {
			urls = append(urls, url)
		}
		urlPois[url] = append(urlPois[url], poi.ID)
	}

	result := p.fetchAll(ctx, urls, urlPois, opts.OnProgress)
	p.mergeStatus(len(pois), result.PreloadedIDs, nil)

	if p.logger != nil {
		p.logger.Info("audio preload finished",
			"success", result.SuccessCount,
			"failed", result.FailedCount,
			"already_cached", result.AlreadyCachedCount,
		)
	}
	return result
}

// PreloadImages runs the independent image pass over the same selection
// rules.
func (p *Preloader) PreloadImages(ctx context.Context, pois []pkg.POI, opts Options) Result {
	selected := p.selectPois(pois, opts)

	urls := make([]string, 0, len(selected))
	urlPois := make(map[string][]string)
	for _, poi := range selected {
		if poi.ImageURL == "" {
			continue
		}
		if _, seen := urlPois[poi.ImageURL]; !seen {
			urls = append(urls, poi.ImageURL)
		}
		urlPois[poi.ImageURL] = append(urlPois[poi.ImageURL], poi.ID)
	}

	result := p.fetchAll(ctx, urls, urlPois, opts.OnProgress)
	p.mergeStatus(len(pois), nil, result.PreloadedIDs)
	return result
}

// ShouldPreload implements the caller-side re-preload policy: run when no
// preload has ever happened, when the last one is stale, or when the POI
// set changed size.
func (p *Preloader) ShouldPreload(pois []pkg.POI, now time.Time) bool {
	var status pkg.PreloadStatus
	if err := p.kv.Get(store.KeyPreloadStatus, &status); err != nil {
		return true
	}
	if status.LastPreload.IsZero() {
		return true
	}
	if now.Sub(status.LastPreload) > p.config.RepreloadAge {
		return true
	}
	return status.TotalPois != len(pois)
}

// Status returns the persisted preload record.
func (p *Preloader) Status() pkg.PreloadStatus {
	var status pkg.PreloadStatus
	if err := p.kv.Get(store.KeyPreloadStatus, &status); err != nil {
		return pkg.PreloadStatus{}
	}
	return status
}

// selectPois restricts to the radius around the current position unless the
// caller asked for everything, then orders by priority descending.
func (p *Preloader) selectPois(pois []pkg.POI, opts Options) []pkg.POI {
	radius := opts.RadiusM
	if radius <= 0 {
		radius = p.config.RadiusM
	}

	selected := make([]pkg.POI, 0, len(pois))
	for _, poi := range pois {
		if err := poi.Validate(); err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping invalid poi", "error", err.Error())
			}
			continue
		}
		if opts.CurrentPosition != nil && !opts.PreloadAll {
			d := geo.HaversineM(opts.CurrentPosition.Lat, opts.CurrentPosition.Lng, poi.Lat, poi.Lng)
			if d > radius {
				continue
			}
		}
		selected = append(selected, poi)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority > selected[j].Priority
	})
	return selected
}

// fetchAll works through the de-duplicated URL list, reporting progress
// after every URL.
func (p *Preloader) fetchAll(ctx context.Context, urls []string, urlPois map[string][]string, onProgress func(pkg.PreloadProgress)) Result {
	var result Result
	total := len(urls)
	seenIDs := make(map[string]bool)

	report := func() {
		if onProgress == nil {
			return
		}
		processed := result.SuccessCount + result.AlreadyCachedCount + result.FailedCount
		progress := pkg.PreloadProgress{
			Total:     total,
			Completed: result.SuccessCount + result.AlreadyCachedCount,
			Pending:   total - processed,
			Failed:    result.FailedCount,
		}
		if total > 0 {
			progress.Percent = float64(processed) / float64(total) * 100
		}
		onProgress(progress)
	}

	markPreloaded := func(url string) {
		for _, id := range urlPois[url] {
			if !seenIDs[id] {
				seenIDs[id] = true
				result.PreloadedIDs = append(result.PreloadedIDs, id)
			}
		}
	}

	for _, url := range urls {
		if ctx.Err() != nil {
			// Cancelled: stop issuing new fetches, keep what we have.
			break
		}

		if p.assets.Has(url) {
			result.AlreadyCachedCount++
			markPreloaded(url)
			report()
			continue
		}

		if err := p.fetchOne(ctx, url); err != nil {
			result.FailedCount++
			if p.logger != nil {
				p.logger.Warn("asset fetch failed", "url", url, "error", err.Error())
			}
			report()
			continue
		}
		result.SuccessCount++
		markPreloaded(url)
		report()
	}
	return result
}

// fetchOne delegates to the attached worker when possible, falling back to
// a direct fetch+store. A silent worker is treated as success once the
// timeout expires.
func (p *Preloader) fetchOne(ctx context.Context, url string) error {
	if p.delegate != nil {
		done := make(chan error, 1)
		select {
		case p.delegate <- DelegateRequest{URL: url, Done: done}:
			select {
			case err := <-done:
				return err
			case <-time.After(p.config.WorkerTimeout):
				// No answer: assume the worker finished the job.
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			// Worker queue full; fetch directly.
		}
	}

	data, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return p.assets.Put(url, data)
}

// mergeStatus folds a pass's results into the persisted record. The id
// sets only ever grow.
func (p *Preloader) mergeStatus(totalPois int, audioIDs, imageIDs []string) {
	var status pkg.PreloadStatus
	if err := p.kv.Get(store.KeyPreloadStatus, &status); err != nil && err != store.ErrNotFound {
		if p.logger != nil {
			p.logger.Warn("failed to load preload status", "error", err.Error())
		}
	}

	status.TotalPois = totalPois
	status.PreloadedAudioIDs = mergeIDs(status.PreloadedAudioIDs, audioIDs)
	status.PreloadedImageIDs = mergeIDs(status.PreloadedImageIDs, imageIDs)
	status.PreloadedPois = len(status.PreloadedAudioIDs)
	status.LastPreload = time.Now()

	if err := p.kv.Put(store.KeyPreloadStatus, &status); err != nil && p.logger != nil {
		p.logger.Warn("failed to persist preload status", "error", err.Error())
	}
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range added {
		if !seen[id] {
			seen[id] = true
			existing = append(existing, id)
		}
	}
	return existing
}
