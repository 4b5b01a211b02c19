// Package depupdate extracts dependency update information from
// pull requests created by dependency update bots.
package depupdate

import (
	"regexp"
	"strconv"
	"strings"
)

// Type classifies a dependency update by the semver component it changes.
type Type string

const (
	TypeMajor Type = "major"
	TypeMinor Type = "minor"
	TypePatch Type = "patch"
	// TypeOther is used when the update is not a recognizable semver bump.
	TypeOther Type = "other"
)

// ParseType converts a string to a Type. It returns false if the string is
// not a valid Type value.
func ParseType(in string) (Type, bool) {
	switch Type(strings.ToLower(in)) {
	case TypeMajor:
		return TypeMajor, true
	case TypeMinor:
		return TypeMinor, true
	case TypePatch:
		return TypePatch, true
	case TypeOther:
		return TypeOther, true
	default:
		return "", false
	}
}

// Update describes a dependency update pull request.
type Update struct {
	// Package is the name of the updated dependency
	Package string
	// From and To are the version strings as they appear in the PR title
	From string
	To   string
	Type Type
}

// titleRe matches dependency update PR titles like:
//
//	Bump github.com/google/go-github/v59 from 59.0.0 to 59.0.1
//	Update rack requirement from ~> 2.1.4 to ~> 2.2.3
//	chore(deps): bump actions/checkout from 4.1.0 to 4.1.1
//	build(deps-dev): update pytest requirement from <7 to <8
//
// The optional prefix covers conventional-commit style prefixes and
// "[Security]" markers.
var titleRe = regexp.MustCompile(
	`(?i)^(?:[a-z]+(?:\([^)]*\))?!?:\s*)?(?:\[[^\]]+\]\s*)?(?:bump|update|upgrade)\s+(.+?)\s+(?:requirement\s+)?from\s+(?:[~^<>=]+\s*)?(\S+)\s+to\s+(?:[~^<>=]+\s*)?(\S+)`,
)

// Classify parses a pull request title into an Update.
// Titles that do not look like a single dependency update (e.g. grouped
// updates, "Bump the gha group with 3 updates") or whose versions are not
// comparable semver versions are classified as TypeOther.
// The returned Update is never nil.
func Classify(title string) *Update {
	matches := titleRe.FindStringSubmatch(strings.TrimSpace(title))
	if matches == nil {
		return &Update{Type: TypeOther}
	}

	result := Update{
		Package: matches[1],
		From:    matches[2],
		To:      matches[3],
	}

	result.Type = bumpType(result.From, result.To)

	return &result
}

// branchRe matches dependabot update branch names like
// dependabot/go_modules/github.com/google/go-github/v59-59.0.1 and captures
// the package name and the new version.
var branchRe = regexp.MustCompile(`^dependabot/[^/]+/(.+?)-v?([0-9][^-/]*)$`)

// ClassifyPR parses the pull request title and falls back to the dependabot
// branch name when the title is not parsable.
// The branch name only carries the new version, updates that are recognized
// via the branch alone stay classified as TypeOther.
func ClassifyPR(title, branch string) *Update {
	update := Classify(title)
	if update.Package != "" {
		return update
	}

	matches := branchRe.FindStringSubmatch(branch)
	if matches == nil {
		return update
	}

	return &Update{
		Package: matches[1],
		To:      matches[2],
		Type:    TypeOther,
	}
}

// bumpType compares two version strings and returns the semver component
// that changed.
func bumpType(from, to string) Type {
	vFrom, ok := parseVersion(from)
	if !ok {
		return TypeOther
	}

	vTo, ok := parseVersion(to)
	if !ok {
		return TypeOther
	}

	switch {
	case vFrom.major != vTo.major:
		return TypeMajor
	case vFrom.minor != vTo.minor:
		return TypeMinor
	case vFrom.patch != vTo.patch:
		return TypePatch
	default:
		return TypeOther
	}
}

type version struct {
	major, minor, patch int
}

// versionRe extracts MAJOR[.MINOR[.PATCH]] from a version string, skipping
// requirement operators ("~>", ">=", "=") and a leading "v".
var versionRe = regexp.MustCompile(`^[^0-9]*(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

func parseVersion(in string) (version, bool) {
	matches := versionRe.FindStringSubmatch(in)
	if matches == nil {
		return version{}, false
	}

	var result version
	var err error

	result.major, err = strconv.Atoi(matches[1])
	if err != nil {
		return version{}, false
	}

	if matches[2] != "" {
		if result.minor, err = strconv.Atoi(matches[2]); err != nil {
			return version{}, false
		}
	}

	if matches[3] != "" {
		if result.patch, err = strconv.Atoi(matches[3]); err != nil {
			return version{}, false
		}
	}

	return result, true
}
