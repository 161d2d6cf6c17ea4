// Package update replaces the running cputally binary with a release from
// GitHub. Release assets are verified against the release's checksums.txt.
package update

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	selfupdate "github.com/creativeprojects/go-selfupdate"
)

const (
	// Slug is the GitHub repository releases are fetched from.
	Slug = "musher-dev/cputally"
	// DisabledEnv turns off update checks and installs when set to 1 or true.
	DisabledEnv = "CPUTALLY_UPDATE_DISABLED"
	// ReleasesURL is where users can browse versions by hand.
	ReleasesURL = "https://github.com/" + Slug + "/releases"
)

// Disabled reports whether DisabledEnv is set.
func Disabled() bool {
	v := strings.TrimSpace(os.Getenv(DisabledEnv))
	return v == "1" || strings.EqualFold(v, "true")
}

// Info is the outcome of comparing the running version with the latest release.
type Info struct {
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version"`
	UpdateAvailable bool   `json:"update_available"`
	ReleaseURL      string `json:"release_url,omitempty"`

	// Release is nil when no release carries an asset for this platform.
	Release *selfupdate.Release `json:"-"`
}

// Updater finds and installs releases.
type Updater struct {
	updater *selfupdate.Updater
	slug    selfupdate.Repository
}

// New creates an Updater backed by the public GitHub API. GITHUB_TOKEN, when
// set, raises the API rate limit.
func New() (*Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{
		APIToken: os.Getenv("GITHUB_TOKEN"),
	})
	if err != nil {
		return nil, fmt.Errorf("create github source: %w", err)
	}

	return newWithSource(source, &selfupdate.ChecksumValidator{UniqueFilename: "checksums.txt"})
}

func newWithSource(source selfupdate.Source, validator selfupdate.Validator) (*Updater, error) {
	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:    source,
		Validator: validator,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}

	return &Updater{updater: updater, slug: selfupdate.ParseSlug(Slug)}, nil
}

// Latest compares current with the newest release for this platform. A
// current version that is not semver (a dev build) always has an update.
func (u *Updater) Latest(ctx context.Context, current string) (*Info, error) {
	release, found, err := u.updater.DetectLatest(ctx, u.slug)
	if err != nil {
		return nil, fmt.Errorf("detect latest release: %w", err)
	}

	info := &Info{CurrentVersion: current, LatestVersion: current}
	if !found {
		return info, nil
	}

	info.LatestVersion = release.Version()
	info.ReleaseURL = release.URL
	info.Release = release
	info.UpdateAvailable = newer(release.Version(), current, true)

	return info, nil
}

// Install replaces the running executable with release.
func (u *Updater) Install(ctx context.Context, release *selfupdate.Release) error {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("find executable path: %w", err)
	}

	if err := u.updater.UpdateTo(ctx, release, execPath); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	return nil
}

// InstallVersion finds version, with or without a leading v, and installs it.
func (u *Updater) InstallVersion(ctx context.Context, version string) (*selfupdate.Release, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")

	release, found, err := u.updater.DetectVersion(ctx, u.slug, version)
	if err != nil {
		return nil, fmt.Errorf("detect version %s: %w", version, err)
	}

	if !found {
		return nil, fmt.Errorf("version %s not found for %s/%s", version, runtime.GOOS, runtime.GOARCH)
	}

	if err := u.Install(ctx, release); err != nil {
		return nil, err
	}

	return release, nil
}

// newer reports whether latest is a higher semver than current. The result
// for an unparseable current version is ifUnparsed.
func newer(latest, current string, ifUnparsed bool) bool {
	currentVer, err := semver.NewVersion(current)
	if err != nil {
		return ifUnparsed
	}

	latestVer, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}

	return latestVer.GreaterThan(currentVer)
}
