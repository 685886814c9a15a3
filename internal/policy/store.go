// Package policy enforces per-subscriber access gates on subscription
// fetches: HWID strict lock, HWID device pool, V2Box device lock, and a
// unique-IP rolling window. State is one mutex-guarded JSON file.
package policy

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	policiesFile    = "policies.json"
	legacyLocksFile = "sub_hwid_locks.json"

	// ipWindow is the rolling window for unique-IP limiting.
	ipWindow = 7200 * time.Second

	// DefaultIPLimit applies when a user has no per-user override.
	DefaultIPLimit = 3

	// HWID pool bounds.
	MinHWIDPool = 1
	MaxHWIDPool = 5
)

// ErrInvalidLimit is returned for pool or IP limits outside their range.
var ErrInvalidLimit = errors.New("policy: limit out of range")

// SubscriberPolicy holds every gate for one subscriber. Each field is
// individually optional; a zero value means that gate is off.
type SubscriberPolicy struct {
	RequiredHWID     string               `json:"required_hwid,omitempty"`
	MaxUniqueHWID    int                  `json:"max_unique_hwid,omitempty"`
	SeenHWIDs        []string             `json:"seen_hwids,omitempty"`
	RequiredDeviceID string               `json:"required_device_id,omitempty"`
	IPWindow         map[string]time.Time `json:"ip_window,omitempty"`
	UniqueIPLimit    int                  `json:"unique_ip_limit,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

type policiesFileShape struct {
	Users map[string]*SubscriberPolicy `json:"users"`
}

type legacyLocksShape struct {
	Locks map[string]struct {
		HWID string `json:"hwid"`
	} `json:"locks"`
}

// Store is the file-backed policy registry. All checks are
// read-modify-write under one mutex; subscription serving holds it only
// for the duration of a single check.
type Store struct {
	mu             sync.Mutex
	path           string
	users          map[string]*SubscriberPolicy
	defaultIPLimit int

	now func() time.Time
}

// NewStore loads the policy registry under dataDir. The legacy split
// HWID-locks file, when present, is merged additively: it fills
// required_hwid for users the main file does not know, and is never
// written back.
func NewStore(dataDir string, defaultIPLimit int) (*Store, error) {
	if defaultIPLimit <= 0 {
		defaultIPLimit = DefaultIPLimit
	}
	s := &Store{
		path:           filepath.Join(dataDir, policiesFile),
		users:          make(map[string]*SubscriberPolicy),
		defaultIPLimit: defaultIPLimit,
		now:            time.Now,
	}

	var file policiesFileShape
	if err := loadLenient(s.path, &file); err != nil {
		return nil, err
	}
	if file.Users != nil {
		s.users = file.Users
	}

	var legacy legacyLocksShape
	if err := loadLenient(filepath.Join(dataDir, legacyLocksFile), &legacy); err == nil {
		for username, lock := range legacy.Locks {
			hwid := NormalizeHWID(lock.HWID)
			if hwid == "" {
				continue
			}
			p := s.users[username]
			if p == nil {
				p = &SubscriberPolicy{}
				s.users[username] = p
			}
			if p.RequiredHWID == "" {
				p.RequiredHWID = hwid
				p.SeenHWIDs = appendUnique(p.SeenHWIDs, hwid)
			}
		}
	}

	return s, nil
}

// NormalizeHWID trims and lowercases an HWID so comparison is
// case-insensitive across clients.
func NormalizeHWID(hwid string) string {
	return strings.ToLower(strings.TrimSpace(hwid))
}

func (s *Store) saveLocked() error {
	return saveAtomic(s.path, policiesFileShape{Users: s.users})
}

func (s *Store) userLocked(username string) *SubscriberPolicy {
	p := s.users[username]
	if p == nil {
		p = &SubscriberPolicy{}
		s.users[username] = p
	}
	return p
}

// Get returns a copy of one subscriber's policy.
func (s *Store) Get(username string) (SubscriberPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[username]
	if !ok {
		return SubscriberPolicy{}, false
	}
	out := *p
	out.SeenHWIDs = append([]string(nil), p.SeenHWIDs...)
	out.IPWindow = make(map[string]time.Time, len(p.IPWindow))
	for ip, t := range p.IPWindow {
		out.IPWindow[ip] = t
	}
	return out, true
}

// SetRequiredHWID installs (or with an empty hwid, clears) the strict
// lock. A set HWID is implicitly a member of the device pool.
func (s *Store) SetRequiredHWID(username, hwid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.userLocked(username)
	p.RequiredHWID = NormalizeHWID(hwid)
	if p.RequiredHWID != "" {
		p.SeenHWIDs = appendUnique(p.SeenHWIDs, p.RequiredHWID)
	}
	p.UpdatedAt = s.now().UTC()
	return s.saveLocked()
}

// SetHWIDLimit installs the device-pool size (1..5). Zero disables the
// pool and forgets seen devices.
func (s *Store) SetHWIDLimit(username string, limit int) error {
	if limit != 0 && (limit < MinHWIDPool || limit > MaxHWIDPool) {
		return fmt.Errorf("%w: max_unique_hwid %d", ErrInvalidLimit, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.userLocked(username)
	p.MaxUniqueHWID = limit
	if limit == 0 {
		p.SeenHWIDs = nil
		if p.RequiredHWID != "" {
			p.SeenHWIDs = []string{p.RequiredHWID}
		}
	}
	p.UpdatedAt = s.now().UTC()
	return s.saveLocked()
}

// ResetHWID clears the strict lock, the pool, and all seen devices.
func (s *Store) ResetHWID(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.userLocked(username)
	p.RequiredHWID = ""
	p.MaxUniqueHWID = 0
	p.SeenHWIDs = nil
	p.UpdatedAt = s.now().UTC()
	return s.saveLocked()
}

// SetIPLimit overrides the unique-IP limit for one user. Zero reverts to
// the configured default.
func (s *Store) SetIPLimit(username string, limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w: unique_ip_limit %d", ErrInvalidLimit, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.userLocked(username)
	p.UniqueIPLimit = limit
	p.UpdatedAt = s.now().UTC()
	return s.saveLocked()
}

// IPLimit reports the effective unique-IP limit for a user.
func (s *Store) IPLimit(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.users[username]; ok && p.UniqueIPLimit > 0 {
		return p.UniqueIPLimit
	}
	return s.defaultIPLimit
}

// SetV2BoxDeviceID installs (or with an empty id, clears) the V2Box
// device lock. Device ids are matched lowercase.
func (s *Store) SetV2BoxDeviceID(username, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.userLocked(username)
	p.RequiredDeviceID = NormalizeHWID(deviceID)
	p.UpdatedAt = s.now().UTC()
	return s.saveLocked()
}

// CheckHWID gates a subscription fetch on the presented X-HWID value.
// A strict lock without a pool limit demands an exact match. Once a pool
// limit is set, pool admission governs and the required HWID is just a
// pre-seeded member. With neither set, every request passes.
func (s *Store) CheckHWID(username, presented string) bool {
	presented = NormalizeHWID(presented)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[username]
	if !ok {
		return true
	}

	if p.MaxUniqueHWID == 0 {
		if p.RequiredHWID != "" {
			return presented == p.RequiredHWID
		}
		return true
	}

	if presented == "" {
		return false
	}
	if p.RequiredHWID != "" {
		p.SeenHWIDs = appendUnique(p.SeenHWIDs, p.RequiredHWID)
	}
	for _, seen := range p.SeenHWIDs {
		if seen == presented {
			return true
		}
	}
	if len(p.SeenHWIDs) >= p.MaxUniqueHWID {
		return false
	}
	p.SeenHWIDs = append(p.SeenHWIDs, presented)
	p.UpdatedAt = s.now().UTC()
	if err := s.saveLocked(); err != nil {
		log.Printf("[policy] persist hwid pool for %s: %v", username, err)
	}
	return true
}

// CheckDeviceID gates a fetch on the V2Box device lock. With no lock set,
// every request passes, including requests carrying no device id at all.
func (s *Store) CheckDeviceID(username, presented string) bool {
	presented = NormalizeHWID(presented)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[username]
	if !ok || p.RequiredDeviceID == "" {
		return true
	}
	return presented == p.RequiredDeviceID
}

// CheckIP runs the unique-IP rolling window for one request: prune stale
// entries, refresh a known IP, admit a new IP while capacity remains,
// otherwise deny.
func (s *Store) CheckIP(username, ip string) bool {
	if ip == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.defaultIPLimit
	p := s.userLocked(username)
	if p.UniqueIPLimit > 0 {
		limit = p.UniqueIPLimit
	}
	if limit <= 0 {
		return true
	}

	now := s.now()
	cutoff := now.Add(-ipWindow)
	for seenIP, last := range p.IPWindow {
		if last.Before(cutoff) {
			delete(p.IPWindow, seenIP)
		}
	}

	if p.IPWindow == nil {
		p.IPWindow = make(map[string]time.Time)
	}
	allowed := true
	if _, known := p.IPWindow[ip]; known {
		p.IPWindow[ip] = now
	} else if len(p.IPWindow) >= limit {
		allowed = false
	} else {
		p.IPWindow[ip] = now
	}
	if err := s.saveLocked(); err != nil {
		log.Printf("[policy] persist ip window for %s: %v", username, err)
	}
	return allowed
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
