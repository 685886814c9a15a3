// Package aggregate drives the subscription pipeline: fetch every
// enabled source, parse and probe each link, rank the results, swap the
// persisted snapshot, and push new hosts through to the inventory. One
// tick is the sole write path to the aggregated snapshot.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mybrohigh/Xpert/internal/geoip"
	"github.com/mybrohigh/Xpert/internal/marzban"
	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/netutil"
	"github.com/mybrohigh/Xpert/internal/probe"
	"github.com/mybrohigh/Xpert/internal/store"
	"github.com/mybrohigh/Xpert/internal/subscription"
)

// DefaultTickTimeout bounds one full aggregation pass.
const DefaultTickTimeout = 300 * time.Second

// ErrTickTimeout reports that the pass hit its outer deadline.
var ErrTickTimeout = errors.New("aggregate: tick deadline exceeded")

// Config wires the orchestrator's collaborators.
type Config struct {
	Sources    *store.SourceStore
	Snapshot   *store.SnapshotStore
	Downloader netutil.Downloader
	Prober     *probe.Prober
	Overlay    *probe.TargetOverlay
	Marzban    *marzban.Client // nil disables push-through
	GeoIP      *geoip.Service  // nil disables country annotation

	SourceConcurrency int           // default 4
	ProbeConcurrency  int           // default 16
	TickTimeout       time.Duration // default DefaultTickTimeout
}

// Orchestrator runs aggregation ticks.
type Orchestrator struct {
	cfg Config

	tickMu sync.Mutex // one tick at a time
}

// NewOrchestrator validates the config and applies defaults.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.SourceConcurrency <= 0 {
		cfg.SourceConcurrency = 4
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 16
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultTickTimeout
	}
	return &Orchestrator{cfg: cfg}
}

// TickResult summarizes one aggregation pass.
type TickResult struct {
	Status        string        `json:"status"`
	Sources       int           `json:"sources"`
	TotalConfigs  int           `json:"total_configs"`
	ActiveConfigs int           `json:"active_configs"`
	Changed       bool          `json:"changed"`
	SyncedHosts   int           `json:"synced_hosts"`
	Duration      time.Duration `json:"-"`
	DurationMS    int64         `json:"duration_ms"`
	Errors        []string      `json:"errors,omitempty"`
}

// sourceFeed is the fetch outcome for one source.
type sourceFeed struct {
	source model.SubscriptionSource
	links  []subscription.Link
	err    error
}

// Tick runs one full aggregation pass. Concurrent calls serialize; the
// snapshot is replaced atomically at the end even when it comes out
// empty, because the enabled sources are the only truth it reflects.
func (o *Orchestrator) Tick(ctx context.Context) (TickResult, error) {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TickTimeout)
	defer cancel()

	sources := o.cfg.Sources.ListEnabled()
	result := TickResult{Status: "success", Sources: len(sources)}

	feeds := o.fetchAll(ctx, sources)
	configs := o.probeAll(ctx, feeds)

	now := time.Now().UTC()
	for _, feed := range feeds {
		if feed.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("source %q: %v", feed.source.Name, feed.err))
		}
		count := len(feed.links)
		rate := 0.0
		if count > 0 {
			rate = 100
		}
		if err := o.cfg.Sources.UpdateMetadata(feed.source.ID, now, count, rate); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("source %q: update metadata: %v", feed.source.Name, err))
		}
	}

	changed, err := o.cfg.Snapshot.Replace(configs)
	if err != nil {
		result.Status = "error"
		return result, fmt.Errorf("aggregate: replace snapshot: %w", err)
	}
	result.Changed = changed
	result.TotalConfigs = len(configs)
	for _, cfg := range configs {
		if cfg.IsActive {
			result.ActiveConfigs++
		}
	}

	if changed {
		sync, err := o.cfg.Marzban.Sync(ctx, configs)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("marzban sync: %v", err))
		}
		result.SyncedHosts = sync.TotalSynced
		result.Errors = append(result.Errors, sync.Errors...)
	} else {
		log.Printf("[aggregate] snapshot unchanged, skipping inventory sync")
	}

	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Status = "timeout"
		return result, ErrTickTimeout
	}
	return result, nil
}

// fetchAll downloads and parses every source feed with bounded
// concurrency. Result order matches the source order.
func (o *Orchestrator) fetchAll(ctx context.Context, sources []model.SubscriptionSource) []sourceFeed {
	feeds := make([]sourceFeed, len(sources))
	sem := make(chan struct{}, o.cfg.SourceConcurrency)
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			feeds[i] = o.fetchOne(ctx, src)
		}()
	}
	wg.Wait()
	return feeds
}

func (o *Orchestrator) fetchOne(ctx context.Context, src model.SubscriptionSource) sourceFeed {
	feed := sourceFeed{source: src}
	body, err := o.cfg.Downloader.Download(ctx, src.URL)
	if err != nil {
		feed.err = err
		return feed
	}
	for _, raw := range subscription.ExtractLinks(body) {
		link, ok := subscription.ParseLink(raw)
		if !ok {
			continue
		}
		feed.links = append(feed.links, link)
	}
	return feed
}

// probeEntry lets concurrent workers share one probe per distinct
// endpoint within a tick.
type probeEntry struct {
	once sync.Once
	res  probe.Result
}

// probeAll probes every parsed link with bounded concurrency, de-duping
// identical (server, port, tls) endpoints, and assembles the ranked
// config list with ids monotone from 1 in feed order.
func (o *Orchestrator) probeAll(ctx context.Context, feeds []sourceFeed) []model.AggregatedConfig {
	type slot struct {
		feedIdx int
		linkIdx int
	}

	var slots []slot
	for i, feed := range feeds {
		for j := range feed.links {
			slots = append(slots, slot{feedIdx: i, linkIdx: j})
		}
	}

	results := make([]probe.Result, len(slots))
	seen := xsync.NewMap[string, *probeEntry]()
	sem := make(chan struct{}, o.cfg.ProbeConcurrency)
	var wg sync.WaitGroup

	for n, s := range slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			link := feeds[s.feedIdx].links[s.linkIdx]
			key := fmt.Sprintf("%s:%d:%t", link.Server, link.Port, link.TLS)
			entry, _ := seen.LoadOrStore(key, &probeEntry{})
			entry.once.Do(func() {
				res := o.cfg.Prober.ProbeEndpoint(ctx, link.Server, link.Port, link.TLS)
				entry.res = o.cfg.Overlay.Blend(ctx, res)
			})
			results[n] = entry.res
		}()
	}
	wg.Wait()

	now := time.Now().UTC()
	configs := make([]model.AggregatedConfig, 0, len(slots))
	for n, s := range slots {
		link := feeds[s.feedIdx].links[s.linkIdx]
		res := results[n]
		cfg := model.AggregatedConfig{
			ID:        int64(n + 1),
			Raw:       link.Raw,
			Protocol:  link.Protocol,
			Server:    link.Server,
			Port:      link.Port,
			Remarks:   link.Remarks,
			SourceID:  feeds[s.feedIdx].source.ID,
			PingMS:    res.PingMS,
			IsActive:  res.OK,
			LastCheck: now,
		}
		if !res.OK {
			cfg.PacketLoss = 100
		}
		cfg.Country = o.cfg.GeoIP.CountryForHost(ctx, link.Server)
		configs = append(configs, cfg)
	}
	return configs
}

// ValidateLink parses and probes one candidate link without storing it.
func (o *Orchestrator) ValidateLink(ctx context.Context, raw string) (subscription.Link, probe.Result, error) {
	link, ok := subscription.ParseLink(raw)
	if !ok {
		return subscription.Link{}, probe.Result{}, fmt.Errorf("aggregate: unparseable link")
	}
	res := o.cfg.Prober.ProbeEndpoint(ctx, link.Server, link.Port, link.TLS)
	return link, o.cfg.Overlay.Blend(ctx, res), nil
}

// ProbeDirect re-probes one stored direct config, in the shape the
// direct store's refresh pass expects.
func (o *Orchestrator) ProbeDirect(ctx context.Context, cfg model.DirectConfig) (float64, bool) {
	useTLS := false
	if link, ok := subscription.ParseLink(cfg.Raw); ok {
		useTLS = link.TLS
	}
	res := o.cfg.Prober.ProbeEndpoint(ctx, cfg.Server, cfg.Port, useTLS)
	res = o.cfg.Overlay.Blend(ctx, res)
	return res.PingMS, res.OK
}
