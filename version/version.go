package version

import (
	"regexp"

	goversion "github.com/hashicorp/go-version"
)

// will be replaced with the release version when using goreleaser
var version = "development"

var semverRegexp = regexp.MustCompile("^" + goversion.SemverRegexpRaw + "$")

// AppVersion returns the version of the running application
func AppVersion() string {
	return version
}

// IsDevelopment reports whether the binary was built without a release version
func IsDevelopment(v string) bool {
	return v == "" || v == "development" || !semverRegexp.MatchString(v)
}
