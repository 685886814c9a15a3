package store

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"

	"github.com/mybrohigh/Xpert/internal/model"
)

const configsFile = "configs.json"

// SnapshotStore holds the aggregated-config set produced by the last
// completed tick. Reads go through an atomic pointer so subscription
// serving never blocks on a tick writing the next snapshot.
type SnapshotStore struct {
	writeMu sync.Mutex
	path    string
	current atomic.Pointer[[]model.AggregatedConfig]
	hash    atomic.Uint64
}

// NewSnapshotStore loads the persisted snapshot (if any) under dataDir.
func NewSnapshotStore(dataDir string) (*SnapshotStore, error) {
	s := &SnapshotStore{path: filepath.Join(dataDir, configsFile)}
	var configs []model.AggregatedConfig
	if err := loadJSON(s.path, &configs); err != nil {
		return nil, err
	}
	s.current.Store(&configs)
	s.hash.Store(contentHash(configs))
	return s, nil
}

// All returns the full snapshot, active and inactive.
func (s *SnapshotStore) All() []model.AggregatedConfig {
	return *s.current.Load()
}

// Active returns only reachable configs, best ping first.
func (s *SnapshotStore) Active() []model.AggregatedConfig {
	all := s.All()
	active := make([]model.AggregatedConfig, 0, len(all))
	for _, c := range all {
		if c.IsActive {
			active = append(active, c)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].PingMS < active[j].PingMS
	})
	return active
}

// Replace persists and publishes a new snapshot. changed reports whether
// the active raw-link set differs from the previous snapshot; callers use
// it to skip downstream syncs when a tick produced identical output.
func (s *SnapshotStore) Replace(configs []model.AggregatedConfig) (changed bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.replaceLocked(configs)
}

func (s *SnapshotStore) replaceLocked(configs []model.AggregatedConfig) (changed bool, err error) {
	if configs == nil {
		configs = []model.AggregatedConfig{}
	}
	if err := saveJSON(s.path, configs); err != nil {
		return false, err
	}

	newHash := contentHash(configs)
	changed = s.hash.Swap(newHash) != newHash
	s.current.Store(&configs)
	return changed, nil
}

// RemoveSource drops every config belonging to a deleted source.
func (s *SnapshotStore) RemoveSource(sourceID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	all := s.All()
	kept := make([]model.AggregatedConfig, 0, len(all))
	for _, c := range all {
		if c.SourceID != sourceID {
			kept = append(kept, c)
		}
	}
	_, err := s.replaceLocked(kept)
	return err
}

// SnapshotStats summarizes the current snapshot for the dashboard.
type SnapshotStats struct {
	TotalConfigs  int     `json:"total_configs"`
	ActiveConfigs int     `json:"active_configs"`
	AvgPingMS     float64 `json:"avg_ping"`
}

// Stats computes counts and the mean ping over active configs.
func (s *SnapshotStore) Stats() SnapshotStats {
	all := s.All()
	stats := SnapshotStats{TotalConfigs: len(all)}
	var sum float64
	for _, c := range all {
		if c.IsActive {
			stats.ActiveConfigs++
			sum += c.PingMS
		}
	}
	if stats.ActiveConfigs > 0 {
		stats.AvgPingMS = sum / float64(stats.ActiveConfigs)
	}
	return stats
}

// contentHash fingerprints the active raw-link set. Ping fluctuations do
// not change the hash, so a tick that reprobes the same endpoints does not
// count as a content change.
func contentHash(configs []model.AggregatedConfig) uint64 {
	raws := make([]string, 0, len(configs))
	for _, c := range configs {
		if c.IsActive {
			raws = append(raws, c.Raw)
		}
	}
	sort.Strings(raws)
	return xxh3.HashString(strings.Join(raws, "\n"))
}
