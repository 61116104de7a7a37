package channel

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// PrereleaseTag returns the first dot separated identifier of the prerelease part
// of v, e.g. "beta" for 4.0.0-beta.1. It is empty for release versions and
// for strings that do not parse as versions.
func PrereleaseTag(v string) string {
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return ""
	}
	pre := parsed.Prerelease()
	if pre == "" {
		return ""
	}
	tag, _, _ := strings.Cut(pre, ".")
	return tag
}

// Classify returns the channel whose id matches the prerelease identifier of v.
// Versions without a prerelease identifier, or with one that names no channel,
// belong to the most stable channel.
func (r *Registry) Classify(v string) *Channel {
	tag := PrereleaseTag(v)
	if tag == "" {
		return r.MostStable()
	}
	if c, ok := r.byID[ID(tag)]; ok {
		return c
	}
	return r.MostStable()
}

// DefaultFor returns the channel a fresh install of version v starts on
func (r *Registry) DefaultFor(v string) *Channel {
	return r.Classify(v)
}

// ResolveOrDefault resolves a stored preference. Empty or unknown ids fall back
// to the default channel of the running version.
func (r *Registry) ResolveOrDefault(id, runningVersion string) *Channel {
	if c, err := r.Resolve(id); err == nil {
		return c
	}
	return r.DefaultFor(runningVersion)
}
