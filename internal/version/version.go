// Package version holds the build metadata stamped into elflift binaries.
package version

import (
	"strings"

	"github.com/fatih/color"
)

// Stamped at build time via
// -ldflags "-X github.com/nanana37/elfconv/internal/version.Version=...".
var (
	// Version is the semantic version of the build.
	Version = "0.1.0-dev"

	// GitCommit is the commit hash the binary was built from.
	GitCommit = ""

	// GitMessage is the subject line of that commit.
	GitMessage = ""

	// BuildDate is the build timestamp in ISO-8601.
	BuildDate = ""
)

// Info is a cleaned snapshot of the stamped variables.
type Info struct {
	Version    string
	GitCommit  string
	GitMessage string
	BuildDate  string
}

// Collect trims the stamped values and fills in "dev" when the build ran
// without a version stamp.
func Collect() Info {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = "dev"
	}
	return Info{
		Version:    v,
		GitCommit:  strings.TrimSpace(GitCommit),
		GitMessage: strings.TrimSpace(GitMessage),
		BuildDate:  strings.TrimSpace(BuildDate),
	}
}

var componentColors = []*color.Color{
	color.New(color.FgYellow, color.Bold),
	color.New(color.FgGreen, color.Bold),
	color.New(color.FgBlue, color.Bold),
}

// Colored renders v with each of its first three dotted components in its
// own color; the third component runs to the end of v. A "-" suffix on a
// component, such as a pre-release tag, stays uncolored.
func Colored(v string) string {
	parts := strings.SplitN(v, ".", 3)
	for i := range parts {
		if i >= len(componentColors) {
			break
		}
		// Keep -rc/-dev suffixes on the last component out of the dye.
		comp, rest, found := strings.Cut(parts[i], "-")
		parts[i] = componentColors[i].Sprint(comp)
		if found {
			parts[i] += "-" + rest
		}
	}
	return strings.Join(parts, ".")
}
