package store

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/subscription"
)

const (
	directConfigsFile = "direct_configs.json"

	// pingRefreshThrottle bounds how often a full re-probe of the direct
	// list may run without force.
	pingRefreshThrottle = 120 * time.Second
)

// MoveDirection selects which way a move operation shifts items.
type MoveDirection string

const (
	MoveUp   MoveDirection = "up"
	MoveDown MoveDirection = "down"
)

type directConfigsFileShape struct {
	Configs []model.DirectConfig `json:"configs"`
	NextID  int64                `json:"next_id"`
}

// DirectConfigStore is the ordered list of hand-added links. Order is
// explicit and survives saves; ids are stable and never reused.
type DirectConfigStore struct {
	mu          sync.Mutex
	path        string
	configs     []model.DirectConfig
	nextID      int64
	lastRefresh time.Time

	// countryFlag resolves a server to a flag emoji when the upstream
	// label carried none. Optional; falls back to a random table entry.
	countryFlag func(server string) string
}

// NewDirectConfigStore loads (or initializes) the direct list under dataDir.
func NewDirectConfigStore(dataDir string) (*DirectConfigStore, error) {
	s := &DirectConfigStore{path: filepath.Join(dataDir, directConfigsFile), nextID: 1}
	var file directConfigsFileShape
	if err := loadJSON(s.path, &file); err != nil {
		return nil, err
	}
	s.configs = file.Configs
	if file.NextID > 0 {
		s.nextID = file.NextID
	}
	for _, c := range s.configs {
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
	return s, nil
}

// SetCountryFlag installs a geoip-backed flag resolver. Must be called
// before the store is shared.
func (s *DirectConfigStore) SetCountryFlag(fn func(server string) string) {
	s.countryFlag = fn
}

func (s *DirectConfigStore) saveLocked() error {
	return saveJSON(s.path, directConfigsFileShape{
		Configs: s.configs,
		NextID:  s.nextID,
	})
}

// Add appends a parsed and probed config to the end of the list, assigns
// its id and sticky flag, and re-runs auto-naming.
func (s *DirectConfigStore) Add(cfg model.DirectConfig) (model.DirectConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.ID = s.nextID
	s.nextID++
	if cfg.AddedAt.IsZero() {
		cfg.AddedAt = time.Now().UTC()
	}
	cfg.BypassWhitelist = true
	cfg.AutoSyncToMarzban = true
	if cfg.Flag == "" {
		cfg.Flag = s.pickFlag(cfg)
	}

	s.configs = append(s.configs, cfg)
	s.autoNameLocked()
	if err := s.saveLocked(); err != nil {
		return model.DirectConfig{}, err
	}
	return s.configs[len(s.configs)-1], nil
}

// pickFlag chooses the sticky flag for a new item: the regional-indicator
// pair from the upstream label when present, else geoip, else random.
func (s *DirectConfigStore) pickFlag(cfg model.DirectConfig) string {
	if flag := subscription.FlagFromRemarks(cfg.Remarks); flag != "" {
		return flag
	}
	if link, ok := subscription.ParseLink(cfg.Raw); ok {
		if flag := subscription.FlagFromRemarks(link.Remarks); flag != "" {
			return flag
		}
	}
	if s.countryFlag != nil {
		if flag := s.countryFlag(cfg.Server); flag != "" {
			return flag
		}
	}
	return subscription.RandomFlag()
}

// List returns all direct configs in display order.
func (s *DirectConfigStore) List() []model.DirectConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DirectConfig, len(s.configs))
	copy(out, s.configs)
	return out
}

// Active returns only enabled configs, preserving display order.
func (s *DirectConfigStore) Active() []model.DirectConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DirectConfig
	for _, c := range s.configs {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

// Get returns one config by id.
func (s *DirectConfigStore) Get(id int64) (model.DirectConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.configs[i], nil
	}
	return model.DirectConfig{}, ErrNotFound
}

// Toggle flips the active bit.
func (s *DirectConfigStore) Toggle(id int64) (model.DirectConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return model.DirectConfig{}, ErrNotFound
	}
	s.configs[i].IsActive = !s.configs[i].IsActive
	if err := s.saveLocked(); err != nil {
		s.configs[i].IsActive = !s.configs[i].IsActive
		return model.DirectConfig{}, err
	}
	return s.configs[i], nil
}

// Update replaces the raw link of an existing config in place, keeping
// its id, order slot and sticky flag. The parsed identity fields are
// supplied by the caller. Auto-naming re-runs so the stored label stays
// panel-controlled.
func (s *DirectConfigStore) Update(id int64, raw, protocol, server string, port int) (model.DirectConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return model.DirectConfig{}, ErrNotFound
	}
	s.configs[i].Raw = raw
	s.configs[i].Protocol = protocol
	s.configs[i].Server = server
	s.configs[i].Port = port
	s.configs[i].PingMS = 0
	s.configs[i].LastCheck = time.Time{}
	s.autoNameLocked()
	if err := s.saveLocked(); err != nil {
		return model.DirectConfig{}, err
	}
	return s.configs[i], nil
}

// Delete removes a config and re-runs auto-naming over the survivors.
func (s *DirectConfigStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.configs = append(s.configs[:i:i], s.configs[i+1:]...)
	s.autoNameLocked()
	return s.saveLocked()
}

// Move shifts one config a single slot up or down.
func (s *DirectConfigStore) Move(id int64, dir MoveDirection) error {
	return s.BatchMove([]int64{id}, dir)
}

// BatchMove shifts every selected config one slot in the chosen direction.
// Relative order inside the selected and unselected groups is preserved
// (block-move semantics). Items already at the edge stay put.
func (s *DirectConfigStore) BatchMove(ids []int64, dir MoveDirection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if s.indexLocked(id) < 0 {
			return ErrNotFound
		}
		selected[id] = true
	}

	switch dir {
	case MoveUp:
		for i := 1; i < len(s.configs); i++ {
			if selected[s.configs[i].ID] && !selected[s.configs[i-1].ID] {
				s.configs[i], s.configs[i-1] = s.configs[i-1], s.configs[i]
			}
		}
	case MoveDown:
		for i := len(s.configs) - 2; i >= 0; i-- {
			if selected[s.configs[i].ID] && !selected[s.configs[i+1].ID] {
				s.configs[i], s.configs[i+1] = s.configs[i+1], s.configs[i]
			}
		}
	default:
		return ErrNotFound
	}

	s.autoNameLocked()
	return s.saveLocked()
}

// RefreshAllPings re-probes every stored link. Unless force is set, runs
// at most once per throttle window; a skipped run returns refreshed=false.
// probeFn returns the measured latency and whether the endpoint answered.
func (s *DirectConfigStore) RefreshAllPings(force bool, probeFn func(cfg model.DirectConfig) (pingMS float64, ok bool)) (refreshed bool, err error) {
	s.mu.Lock()
	if !force && time.Since(s.lastRefresh) < pingRefreshThrottle {
		s.mu.Unlock()
		return false, nil
	}
	s.lastRefresh = time.Now()
	snapshot := make([]model.DirectConfig, len(s.configs))
	copy(snapshot, s.configs)
	s.mu.Unlock()

	// Probe outside the lock; writes are re-matched by id afterwards.
	type outcome struct {
		id     int64
		pingMS float64
		ok     bool
	}
	outcomes := make([]outcome, 0, len(snapshot))
	now := time.Now().UTC()
	for _, cfg := range snapshot {
		ping, ok := probeFn(cfg)
		outcomes = append(outcomes, outcome{id: cfg.ID, pingMS: ping, ok: ok})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range outcomes {
		if i := s.indexLocked(o.id); i >= 0 {
			s.configs[i].PingMS = o.pingMS
			s.configs[i].IsActive = o.ok
			s.configs[i].LastCheck = now
		}
	}
	return true, s.saveLocked()
}

func (s *DirectConfigStore) indexLocked(id int64) int {
	for i := range s.configs {
		if s.configs[i].ID == id {
			return i
		}
	}
	return -1
}

// autoNameLocked reassigns the panel-controlled label to every item and
// rewrites each raw link in place so downstream clients see the new name.
// Flags are sticky; only the SR position tracks the current order.
func (s *DirectConfigStore) autoNameLocked() {
	for i := range s.configs {
		if s.configs[i].Flag == "" {
			s.configs[i].Flag = s.pickFlag(s.configs[i])
		}
		label := subscription.AutoLabel(s.configs[i].Flag, i+1)
		s.configs[i].Remarks = label
		if rewritten, ok := subscription.RewriteRemarks(s.configs[i].Raw, label); ok {
			s.configs[i].Raw = rewritten
		}
	}
}
