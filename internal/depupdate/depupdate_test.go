package depupdate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testcases := []struct {
		title    string
		expected Update
	}{
		{
			title: "Bump github.com/google/go-github/v59 from 59.0.0 to 59.0.1",
			expected: Update{
				Package: "github.com/google/go-github/v59",
				From:    "59.0.0",
				To:      "59.0.1",
				Type:    TypePatch,
			},
		},
		{
			title: "Bump actions/checkout from 4.1.0 to 4.2.0",
			expected: Update{
				Package: "actions/checkout",
				From:    "4.1.0",
				To:      "4.2.0",
				Type:    TypeMinor,
			},
		},
		{
			title: "Bump serde from 1.0.219 to 2.0.0",
			expected: Update{
				Package: "serde",
				From:    "1.0.219",
				To:      "2.0.0",
				Type:    TypeMajor,
			},
		},
		{
			title: "chore(deps): bump golang.org/x/oauth2 from 0.7.0 to 0.8.0",
			expected: Update{
				Package: "golang.org/x/oauth2",
				From:    "0.7.0",
				To:      "0.8.0",
				Type:    TypeMinor,
			},
		},
		{
			title: "Update rack requirement from ~> 2.1.4 to ~> 2.2.3",
			expected: Update{
				Package: "rack",
				From:    "2.1.4",
				To:      "2.2.3",
				Type:    TypeMinor,
			},
		},
		{
			title: "Bump chrono from v0.4.38 to v0.4.39",
			expected: Update{
				Package: "chrono",
				From:    "v0.4.38",
				To:      "v0.4.39",
				Type:    TypePatch,
			},
		},
		{
			title: "[Security] Bump lodash from 4.17.20 to 4.17.21",
			expected: Update{
				Package: "lodash",
				From:    "4.17.20",
				To:      "4.17.21",
				Type:    TypePatch,
			},
		},
		{
			// partial versions, as used in requirement updates
			title: "Update pytest requirement from 7 to 8",
			expected: Update{
				Package: "pytest",
				From:    "7",
				To:      "8",
				Type:    TypeMajor,
			},
		},
		{
			// grouped updates have no from/to versions
			title:    "Bump the github-actions group with 3 updates",
			expected: Update{Type: TypeOther},
		},
		{
			title: "Bump mylib from 1.2.3 to 1.2.3",
			expected: Update{
				Package: "mylib",
				From:    "1.2.3",
				To:      "1.2.3",
				Type:    TypeOther,
			},
		},
		{
			title: "Bump weird-dep from abc to def",
			expected: Update{
				Package: "weird-dep",
				From:    "abc",
				To:      "def",
				Type:    TypeOther,
			},
		},
		{
			title:    "Add retry support for the status poller",
			expected: Update{Type: TypeOther},
		},
		{
			title:    "",
			expected: Update{Type: TypeOther},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.title, func(t *testing.T) {
			result := Classify(tc.title)
			assert.Equal(t, tc.expected, *result)
		})
	}
}

func TestClassifyPRFallsBackToBranchName(t *testing.T) {
	result := ClassifyPR("Upgrade dependencies", "dependabot/go_modules/github.com/itchyny/gojq-0.12.13")
	assert.Equal(t, Update{
		Package: "github.com/itchyny/gojq",
		To:      "0.12.13",
		Type:    TypeOther,
	}, *result)

	// a parsable title wins over the branch name
	result = ClassifyPR("Bump gojq from 0.12.12 to 0.12.13", "dependabot/go_modules/gojq-0.12.13")
	assert.Equal(t, Update{
		Package: "gojq",
		From:    "0.12.12",
		To:      "0.12.13",
		Type:    TypePatch,
	}, *result)

	result = ClassifyPR("Refactor config loading", "feature/config-v2")
	assert.Equal(t, Update{Type: TypeOther}, *result)
}

func TestParseType(t *testing.T) {
	for _, valid := range []string{"major", "minor", "patch", "other", "Patch"} {
		_, ok := ParseType(valid)
		assert.True(t, ok, valid)
	}

	_, ok := ParseType("semver-patch")
	assert.False(t, ok)
}
