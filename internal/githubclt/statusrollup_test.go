package githubclt

import (
	"testing"

	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/require"
)

func TestOverallCIStatus_optionalFailedChecksAreIgnored(t *testing.T) {
	status := overallCIStatus(
		[]*CIJobStatus{
			{
				Name:     "optional_check",
				Status:   CIStatusFailure,
				Required: false,
			},
			{
				Name:     "required_check",
				Status:   CIStatusSuccess,
				Required: true,
			},
		},
	)

	require.Equal(t, CIStatusSuccess, status)
}

func TestOverallCIStatus_optionalPendingChecksAreHonored(t *testing.T) {
	status := overallCIStatus(
		[]*CIJobStatus{
			{
				Name:     "optional_check",
				Status:   CIStatusPending,
				Required: false,
			},
			{
				Name:     "required_check",
				Status:   CIStatusSuccess,
				Required: true,
			},
		},
	)

	require.Equal(t, CIStatusPending, status)
}

func TestOverallCIStatus_requiredFailedCheck(t *testing.T) {
	status := overallCIStatus(
		[]*CIJobStatus{
			{
				Name:     "optional_check",
				Status:   CIStatusPending,
				Required: false,
			},
			{
				Name:     "required_check",
				Status:   CIStatusFailure,
				Required: true,
			},
			{
				Name:     "required_check1",
				Status:   CIStatusSuccess,
				Required: true,
			},
		},
	)

	require.Equal(t, CIStatusFailure, status)
}

func TestOverallCIStatus_noChecksIsSuccess(t *testing.T) {
	require.Equal(t, CIStatusSuccess, overallCIStatus(nil))
}

func TestToCIJobStatuses_excludedContextsAreLeftOut(t *testing.T) {
	excluded := map[string]struct{}{"mergomat": {}}

	statuses, err := toCIJobStatuses(
		[]string{"mergomat", "build"},
		[]*queryCheckStatus{
			{
				Name:   "mergomat",
				Status: githubv4.CheckStatusStateInProgress,
			},
			{
				Name:       "build",
				Status:     githubv4.CheckStatusStateCompleted,
				Conclusion: githubv4.CheckConclusionStateSuccess,
			},
		},
		[]*queryStatusContext{
			{
				Context: "mergomat",
				State:   githubv4.StatusStatePending,
			},
		},
		excluded,
	)
	require.NoError(t, err)

	require.Len(t, statuses, 1)
	require.Equal(t, "build", statuses[0].Name)
	require.Equal(t, CIStatusSuccess, statuses[0].Status)
	require.True(t, statuses[0].Required)

	// the pending excluded check must not keep the rollup pending
	require.Equal(t, CIStatusSuccess, overallCIStatus(statuses))
}

func TestToCIJobStatuses_requiredContextsStayPendingWithoutRun(t *testing.T) {
	statuses, err := toCIJobStatuses(
		[]string{"build"},
		nil,
		nil,
		nil,
	)
	require.NoError(t, err)

	require.Len(t, statuses, 1)
	require.Equal(t, CIStatusPending, statuses[0].Status)
	require.Equal(t, CIStatusPending, overallCIStatus(statuses))
}
