package pricing

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultRefreshInterval = time.Hour

// Fetcher returns the current price list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// Refresher periodically pulls the price feed into the registry.
type Refresher struct {
	registry *Registry
	fetcher  Fetcher
	interval time.Duration
	observe  func(result string)
}

// NewRefresher constructs a Refresher. observe, when set, receives "ok", "skipped" or "failed" after each run.
func NewRefresher(registry *Registry, fetcher Fetcher, interval time.Duration, observe func(result string)) *Refresher {
	if registry == nil || fetcher == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Refresher{registry: registry, fetcher: fetcher, interval: interval, observe: observe}
}

// Start launches the refresh loop in a background goroutine.
func (r *Refresher) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("pricing refresher started (interval=%s)", r.interval)
}

func (r *Refresher) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, errRefresh := r.RefreshOnce(ctx); errRefresh != nil {
			log.WithError(errRefresh).Warn("pricing refresher: refresh failed, keeping existing rates")
		}
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// RefreshOnce fetches the feed and records a new rate version.
// An unconfigured or empty feed is a no-op returning zero.
func (r *Refresher) RefreshOnce(ctx context.Context) (int64, error) {
	if r == nil {
		return 0, errors.New("pricing refresher: not initialized")
	}
	entries, errFetch := r.fetcher.Fetch(ctx)
	if errFetch != nil {
		r.report("failed")
		return 0, errFetch
	}
	if len(entries) == 0 {
		r.report("skipped")
		return 0, nil
	}
	version, errRefresh := r.registry.Refresh(ctx, entries)
	if errRefresh != nil {
		r.report("failed")
		return 0, errRefresh
	}
	r.report("ok")
	log.Infof("pricing refresher: stored %d rates (version=%d)", len(entries), version)
	return version, nil
}

func (r *Refresher) report(result string) {
	if r.observe != nil {
		r.observe(result)
	}
}
