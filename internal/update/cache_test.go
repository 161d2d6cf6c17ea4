package update

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolateState(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	return filepath.Join(dir, "state", "cputally", cacheFileName)
}

func TestLoadCache_NoFile(t *testing.T) {
	isolateState(t)

	c, err := LoadCache()
	if err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}

	if !c.CheckedAt.IsZero() || c.LatestVersion != "" {
		t.Errorf("LoadCache() = %+v, want empty", c)
	}
}

func TestRecordAndLoadCache(t *testing.T) {
	path := isolateState(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	info := &Info{CurrentVersion: "1.0.0", LatestVersion: "1.2.0", ReleaseURL: ReleasesURL + "/tag/v1.2.0"}
	if err := Record(info, now); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file missing: %v", err)
	}

	c, err := LoadCache()
	if err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}

	if !c.CheckedAt.Equal(now) || c.LatestVersion != "1.2.0" || c.CurrentVersion != "1.0.0" {
		t.Errorf("LoadCache() = %+v", c)
	}

	// A second record replaces the first and leaves no temp files behind.
	if err := Record(&Info{CurrentVersion: "1.2.0", LatestVersion: "1.2.0"}, now.Add(time.Hour)); err != nil {
		t.Fatalf("second Record() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 1 {
		t.Errorf("state dir has %d entries, want only the cache file", len(entries))
	}
}

func TestLoadCache_Corrupt(t *testing.T) {
	path := isolateState(t)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCache()
	if err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}

	if c.LatestVersion != "" {
		t.Errorf("corrupt cache should load empty, got %+v", c)
	}
}

func TestCacheStale(t *testing.T) {
	now := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		checkedAt time.Time
		want      bool
	}{
		{name: "never checked", want: true},
		{name: "fresh", checkedAt: now.Add(-time.Hour), want: false},
		{name: "stale", checkedAt: now.Add(-CheckInterval), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Cache{CheckedAt: tt.checkedAt}
			if got := c.Stale(now); got != tt.want {
				t.Errorf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheHasUpdate(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{latest: "1.2.0", current: "1.0.0", want: true},
		{latest: "1.0.0", current: "1.0.0", want: false},
		{latest: "0.9.0", current: "1.0.0", want: false},
		{latest: "v2.0.0", current: "1.9.9", want: true},
		{latest: "1.2.0", current: "dev", want: false},
		{latest: "", current: "1.0.0", want: false},
		{latest: "garbage", current: "1.0.0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.latest+"_vs_"+tt.current, func(t *testing.T) {
			c := &Cache{LatestVersion: tt.latest}
			if got := c.HasUpdate(tt.current); got != tt.want {
				t.Errorf("HasUpdate(%q) with latest %q = %v, want %v", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}
