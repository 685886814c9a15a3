// Package geoip provides optional country lookup backed by a MaxMind
// database. The database is downloaded from a configured URL, refreshed
// on a cron schedule, and hot-swapped under a read lock so lookups never
// see a half-written file. With no URL configured the service stays
// disabled and every lookup returns "".
package geoip

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/robfig/cron/v3"

	"github.com/mybrohigh/Xpert/internal/netutil"
)

// DBFilename is the on-disk name of the MaxMind database.
const DBFilename = "geoip.mmdb"

// Reader abstracts the country database so tests can stub it.
type Reader interface {
	Country(ip net.IP) string
	Close() error
}

// OpenFunc opens a database file and returns a Reader.
type OpenFunc func(path string) (Reader, error)

type mmdbReader struct {
	db *maxminddb.Reader
}

func (r *mmdbReader) Country(ip net.IP) string {
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := r.db.Lookup(ip, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

func (r *mmdbReader) Close() error { return r.db.Close() }

// OpenMMDB is the production OpenFunc.
func OpenMMDB(path string) (Reader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &mmdbReader{db: db}, nil
}

// ServiceConfig configures the geoip service.
type ServiceConfig struct {
	CacheDir       string
	DBURL          string // empty disables the service
	UpdateSchedule string // cron expression, default "0 4 * * *"
	OpenDB         OpenFunc
	Downloader     netutil.Downloader
	Resolver       *net.Resolver // nil uses net.DefaultResolver
}

// Service resolves hosts to country codes with hot-reloading.
type Service struct {
	mu     sync.RWMutex
	reader Reader // nil until first load

	cacheDir    string
	dbURL       string
	openDB      OpenFunc
	downloader  netutil.Downloader
	resolver    *net.Resolver
	cron        *cron.Cron
	cronEntryID cron.EntryID
	updateMu    sync.Mutex // serializes UpdateNow calls
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
}

// NewService creates a geoip service. A nil return means the service is
// disabled (no database URL configured).
func NewService(cfg ServiceConfig) *Service {
	if cfg.DBURL == "" {
		return nil
	}
	if cfg.UpdateSchedule == "" {
		cfg.UpdateSchedule = "0 4 * * *"
	}
	if cfg.OpenDB == nil {
		cfg.OpenDB = OpenMMDB
	}
	if cfg.Resolver == nil {
		cfg.Resolver = net.DefaultResolver
	}
	c := cron.New()
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Service{
		cacheDir:   cfg.CacheDir,
		dbURL:      cfg.DBURL,
		openDB:     cfg.OpenDB,
		downloader: cfg.Downloader,
		resolver:   cfg.Resolver,
		cron:       c,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}

	entryID, err := c.AddFunc(cfg.UpdateSchedule, func() {
		if err := s.UpdateNow(); err != nil {
			log.Printf("[geoip] scheduled update failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("[geoip] invalid cron expression %q: %v", cfg.UpdateSchedule, err)
	} else {
		s.cronEntryID = entryID
	}

	return s
}

// Start loads the local database if present, triggers a background
// download when it is missing or stale, and starts the refresh schedule.
// Safe to call on a nil (disabled) service.
func (s *Service) Start() error {
	if s == nil {
		return nil
	}
	dbPath := filepath.Join(s.cacheDir, DBFilename)
	info, err := os.Stat(dbPath)
	switch {
	case err == nil:
		if err := s.reloadReader(dbPath); err != nil {
			log.Printf("[geoip] failed to load initial db: %v", err)
		}
		if s.isStale(info.ModTime()) {
			log.Println("[geoip] database is stale, triggering background update")
			go func() {
				if err := s.UpdateNow(); err != nil {
					log.Printf("[geoip] startup update failed: %v", err)
				}
			}()
		}
	case os.IsNotExist(err):
		log.Println("[geoip] no local database found, triggering background download")
		go func() {
			if err := s.UpdateNow(); err != nil {
				log.Printf("[geoip] initial download failed: %v", err)
			}
		}()
	default:
		return fmt.Errorf("geoip: stat db %s: %w", dbPath, err)
	}
	s.cron.Start()
	return nil
}

// isStale reports whether the file's mtime predates two full refresh
// intervals, tolerating schedule jitter. Falls back to 8 days when the
// schedule cannot be determined.
func (s *Service) isStale(modTime time.Time) bool {
	entry := s.cron.Entry(s.cronEntryID)
	if entry.ID == 0 || entry.Schedule == nil {
		return time.Since(modTime) > 8*24*time.Hour
	}

	now := time.Now()
	next := entry.Schedule.Next(now)
	nextNext := entry.Schedule.Next(next)
	interval := nextNext.Sub(next)
	if interval <= 0 {
		interval = 8 * 24 * time.Hour
	}

	return time.Since(modTime) > 2*interval
}

// Stop stops the refresh schedule and closes the reader. Safe on nil.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.lifeCancel != nil {
		s.lifeCancel()
	}
	if s.cron != nil {
		s.cron.Stop()
	}
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	s.mu.Lock()
	r := s.reader
	s.reader = nil
	s.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// Country returns the ISO country code for an IP, "" when unknown or
// when the service is disabled.
func (s *Service) Country(ip net.IP) string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return ""
	}
	return s.reader.Country(ip)
}

// CountryForHost resolves a hostname (or parses a literal IP) and looks
// up its country code. Resolution failures return "".
func (s *Service) CountryForHost(ctx context.Context, host string) string {
	if s == nil || host == "" {
		return ""
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return s.Country(ip)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	addrs, err := s.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return s.Country(addrs[0].IP)
}

// UpdateNow downloads the database, validates it by opening it, then
// atomically replaces the local file and hot-reloads the reader.
// Serialized via updateMu to prevent concurrent temp file races.
func (s *Service) UpdateNow() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if s.downloader == nil {
		return fmt.Errorf("geoip: no downloader configured")
	}
	ctx := context.Background()
	if s.lifeCtx != nil {
		if err := s.lifeCtx.Err(); err != nil {
			return err
		}
		ctx = s.lifeCtx
	}

	data, err := s.downloader.Download(ctx, s.dbURL)
	if err != nil {
		return fmt.Errorf("geoip: download db: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.cacheDir, DBFilename+".tmp.*")
	if err != nil {
		return fmt.Errorf("geoip: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("geoip: write temp: %w", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpPath) // no-op once renamed

	// A download that is not a valid database must never replace a
	// working one, so probe the temp file before the rename.
	probe, err := s.openDB(tmpPath)
	if err != nil {
		return fmt.Errorf("geoip: downloaded file is not a valid database: %w", err)
	}
	probe.Close()

	dbPath := filepath.Join(s.cacheDir, DBFilename)
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return fmt.Errorf("geoip: atomic replace: %w", err)
	}

	return s.reloadReader(dbPath)
}

// reloadReader swaps in a fresh reader. RLock holders on the old reader
// finish before it is closed.
func (s *Service) reloadReader(path string) error {
	newReader, err := s.openDB(path)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", path, err)
	}
	s.mu.Lock()
	old := s.reader
	s.reader = newReader
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// LastUpdated returns the modification time of the database file.
func (s *Service) LastUpdated() time.Time {
	if s == nil {
		return time.Time{}
	}
	info, err := os.Stat(filepath.Join(s.cacheDir, DBFilename))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
