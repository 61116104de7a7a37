// Package checker is the boundary to the platform updater: it looks up the
// newest release published on one update channel.
package checker

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/creativeprojects/go-selfupdate"
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/version"
)

// Options tune a single channel check
type Options struct {
	AllowDowngrade bool
}

// Result of a single channel check
type Result struct {
	UpdateWasDiscovered bool
	Version             string
}

// Checker checks one channel for a release to move to
type Checker interface {
	CheckForUpdates(ctx context.Context, ch *channel.Channel, opts Options) (Result, error)
}

// Config of the go-selfupdate backed checker
type Config struct {
	// Repository is the owner/name slug holding the releases
	Repository     string
	CurrentVersion string
	Registry       *channel.Registry
	// Source overrides the GitHub release source
	Source    selfupdate.Source
	Validator selfupdate.Validator
	OS        string
	Arch      string
}

// SelfUpdate checks GitHub releases through go-selfupdate. Releases are assigned
// to channels by the prerelease identifier of their tag.
type SelfUpdate struct {
	cfg    Config
	source selfupdate.Source

	mu       sync.Mutex
	releases map[string]*selfupdate.Release
}

// NewSelfUpdate creates the checker, connecting to GitHub unless cfg.Source is set
func NewSelfUpdate(cfg Config) (*SelfUpdate, error) {
	if cfg.Registry == nil {
		cfg.Registry = channel.DefaultRegistry()
	}
	if cfg.OS == "" {
		cfg.OS = runtime.GOOS
	}
	if cfg.Arch == "" {
		cfg.Arch = runtime.GOARCH
	}

	source := cfg.Source
	if source == nil {
		gh, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
		if err != nil {
			return nil, fmt.Errorf("create github release source: %w", err)
		}
		source = gh
	}

	return &SelfUpdate{
		cfg:      cfg,
		source:   source,
		releases: make(map[string]*selfupdate.Release),
	}, nil
}

// CheckForUpdates detects the newest release on ch and reports whether the
// running version should move to it.
func (s *SelfUpdate) CheckForUpdates(ctx context.Context, ch *channel.Channel, opts Options) (Result, error) {
	if version.IsDevelopment(s.cfg.CurrentVersion) {
		log.Debugf("running version %q is not a release, skipping check", s.cfg.CurrentVersion)
		return Result{}, nil
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source: &channelSource{
			Source:   s.source,
			registry: s.cfg.Registry,
			channel:  ch.ID(),
		},
		Validator:  s.cfg.Validator,
		OS:         s.cfg.OS,
		Arch:       s.cfg.Arch,
		Prerelease: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create updater: %w", err)
	}

	rel, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(s.cfg.Repository))
	if err != nil {
		return Result{}, fmt.Errorf("detect latest release on channel %s: %w", ch, err)
	}
	if !found {
		log.Debugf("no release found on channel %s", ch)
		return Result{}, nil
	}

	latest := rel.Version()
	if !discovered(s.cfg.CurrentVersion, latest, opts.AllowDowngrade) {
		log.Debugf("channel %s latest release %s, running %s", ch, latest, s.cfg.CurrentVersion)
		return Result{}, nil
	}

	s.mu.Lock()
	s.releases[latest] = rel
	s.mu.Unlock()

	return Result{UpdateWasDiscovered: true, Version: latest}, nil
}

// Release returns the release found for v by an earlier check
func (s *SelfUpdate) Release(v string) (*selfupdate.Release, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.releases[v]
	return rel, ok
}

// Source returns the release source used for checks, so downloads go through the same one
func (s *SelfUpdate) Source() selfupdate.Source {
	return s.source
}

// discovered reports whether candidate is an update for current. Without
// downgrade permission the candidate must be newer; with it any different
// version counts.
func discovered(current, candidate string, allowDowngrade bool) bool {
	cur, err := goversion.NewVersion(current)
	if err != nil {
		return false
	}
	cand, err := goversion.NewVersion(candidate)
	if err != nil {
		log.Warnf("ignoring release with invalid version %q: %v", candidate, err)
		return false
	}

	if allowDowngrade {
		return !cand.Equal(cur)
	}
	return cand.GreaterThan(cur)
}

// channelSource hides every release that does not belong to one channel
type channelSource struct {
	selfupdate.Source
	registry *channel.Registry
	channel  channel.ID
}

func (s *channelSource) ListReleases(ctx context.Context, repository selfupdate.Repository) ([]selfupdate.SourceRelease, error) {
	releases, err := s.Source.ListReleases(ctx, repository)
	if err != nil {
		return nil, err
	}

	filtered := make([]selfupdate.SourceRelease, 0, len(releases))
	for _, rel := range releases {
		if rel.GetDraft() {
			continue
		}
		if s.registry.Classify(rel.GetTagName()).ID() != s.channel {
			continue
		}
		filtered = append(filtered, rel)
	}
	return filtered, nil
}
