package store

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/mybrohigh/Xpert/internal/model"
)

const sourcesFile = "sources.json"

// SourceStore is the registry of upstream subscription feeds, persisted as
// one JSON array.
type SourceStore struct {
	mu      sync.Mutex
	path    string
	sources []model.SubscriptionSource
}

// NewSourceStore loads (or initializes) the source registry under dataDir.
func NewSourceStore(dataDir string) (*SourceStore, error) {
	s := &SourceStore{path: filepath.Join(dataDir, sourcesFile)}
	if err := loadJSON(s.path, &s.sources); err != nil {
		return nil, err
	}
	return s, nil
}

// Add registers a new enabled source. The id is max(existing)+1; ids of
// deleted sources may be reused by later adds.
func (s *SourceStore) Add(name, url string, priority int) (model.SubscriptionSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	for _, src := range s.sources {
		if src.ID > maxID {
			maxID = src.ID
		}
	}

	src := model.SubscriptionSource{
		ID:        maxID + 1,
		Name:      name,
		URL:       url,
		Enabled:   true,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	s.sources = append(s.sources, src)
	if err := saveJSON(s.path, s.sources); err != nil {
		s.sources = s.sources[:len(s.sources)-1]
		return model.SubscriptionSource{}, err
	}
	return src, nil
}

// List returns all sources in insertion order.
func (s *SourceStore) List() []model.SubscriptionSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SubscriptionSource, len(s.sources))
	copy(out, s.sources)
	return out
}

// ListEnabled returns only the sources the aggregator should fetch.
func (s *SourceStore) ListEnabled() []model.SubscriptionSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SubscriptionSource
	for _, src := range s.sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// Toggle flips the enabled bit and returns the updated source.
func (s *SourceStore) Toggle(id int64) (model.SubscriptionSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sources {
		if s.sources[i].ID == id {
			s.sources[i].Enabled = !s.sources[i].Enabled
			if err := saveJSON(s.path, s.sources); err != nil {
				s.sources[i].Enabled = !s.sources[i].Enabled
				return model.SubscriptionSource{}, err
			}
			return s.sources[i], nil
		}
	}
	return model.SubscriptionSource{}, ErrNotFound
}

// Delete removes a source. The caller is responsible for cascading the
// removal of aggregated configs that referenced it.
func (s *SourceStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sources {
		if s.sources[i].ID == id {
			remaining := append(s.sources[:i:i], s.sources[i+1:]...)
			if err := saveJSON(s.path, remaining); err != nil {
				return err
			}
			s.sources = remaining
			return nil
		}
	}
	return ErrNotFound
}

// UpdateMetadata records the outcome of one aggregation fetch for a source.
func (s *SourceStore) UpdateMetadata(id int64, fetchedAt time.Time, configCount int, successRate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sources {
		if s.sources[i].ID == id {
			s.sources[i].LastFetched = fetchedAt
			s.sources[i].ConfigCount = configCount
			s.sources[i].SuccessRate = successRate
			return saveJSON(s.path, s.sources)
		}
	}
	return ErrNotFound
}
