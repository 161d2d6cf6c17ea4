package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/musher-dev/cputally/internal/paths"
)

const (
	cacheFileName = "update-check.json"
	// CheckInterval is how long a cached check stays fresh.
	CheckInterval = 24 * time.Hour
)

// Cache records the last successful release check so doctor can report
// available updates without calling GitHub.
type Cache struct {
	CheckedAt      time.Time `json:"checked_at"`
	LatestVersion  string    `json:"latest_version,omitempty"`
	CurrentVersion string    `json:"current_version,omitempty"`
	ReleaseURL     string    `json:"release_url,omitempty"`
}

func cachePath() (string, error) {
	root, err := paths.StateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, cacheFileName), nil
}

// LoadCache reads the cache. A missing or corrupt file yields an empty Cache.
func LoadCache() (*Cache, error) {
	path, err := cachePath()
	if err != nil {
		return &Cache{}, nil //nolint:nilerr // no state dir means nothing cached
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path under the cputally state dir
	if errors.Is(err, os.ErrNotExist) {
		return &Cache{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read update cache: %w", err)
	}

	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return &Cache{}, nil //nolint:nilerr // corrupt cache is treated as empty
	}

	return &c, nil
}

// Save writes the cache through a temp file and rename so concurrent runs
// never see a partial file.
func (c *Cache) Save() error {
	path, err := cachePath()
	if err != nil {
		return fmt.Errorf("resolve update cache path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal update cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, cacheFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp update cache: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write temp update cache: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp update cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace update cache: %w", err)
	}

	return nil
}

// Record stores a completed check as of now.
func Record(info *Info, now time.Time) error {
	c := &Cache{
		CheckedAt:      now,
		LatestVersion:  info.LatestVersion,
		CurrentVersion: info.CurrentVersion,
		ReleaseURL:     info.ReleaseURL,
	}

	return c.Save()
}

// Stale reports whether a new check is due at now.
func (c *Cache) Stale(now time.Time) bool {
	return c.CheckedAt.IsZero() || now.Sub(c.CheckedAt) >= CheckInterval
}

// HasUpdate reports whether the cached latest version is newer than current.
// Dev builds never report a cached update.
func (c *Cache) HasUpdate(current string) bool {
	if c.LatestVersion == "" || current == "" {
		return false
	}

	return newer(c.LatestVersion, current, false)
}
