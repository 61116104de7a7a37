package channel

// AllowDowngrade decides whether a check of target may resolve to a version older
// than currentVersion.
//
// A release build may always be moved to whatever the target channel offers.
// A prerelease build may only be downgraded by checking a channel strictly less
// stable than its own tier, so switching a beta install back to latest never
// silently rolls it back.
func (r *Registry) AllowDowngrade(currentVersion string, target *Channel) bool {
	if PrereleaseTag(currentVersion) == "" {
		return true
	}
	running := r.Classify(currentVersion)
	return r.Stability(target) < r.Stability(running)
}
