package githubclt

import (
	"context"
	"errors"
	"fmt"

	"github.com/shurcooL/githubv4"
)

// CIStatus abstracts the multiple result values of GitHub check runs and
// commit statuses into a single value.
type CIStatus string

const (
	CIStatusSuccess CIStatus = "SUCCESS"
	CIStatusPending CIStatus = "PENDING"
	CIStatusFailure CIStatus = "FAILURE"
)

// ReviewDecision is the result of a pull request review.
type ReviewDecision string

const (
	ReviewDecisionApproved         = ReviewDecision(githubv4.PullRequestReviewDecisionApproved)
	ReviewDecisionChangesRequested = ReviewDecision(githubv4.PullRequestReviewDecisionChangesRequested)
	ReviewDecisionReviewRequired   = ReviewDecision(githubv4.PullRequestReviewDecisionReviewRequired)
)

// CIJobStatus is the status of a CI job.
// It represents the status of GitHub CheckRuns and commit statuses.
type CIJobStatus struct {
	Name     string
	Status   CIStatus
	Required bool
}

// StatusRollupResult describes the settled-state of the status checks of a
// pull request head commit.
type StatusRollupResult struct {
	ReviewDecision ReviewDecision
	CIStatus       CIStatus
	Statuses       []*CIJobStatus
	Commit         string
}

// StatusRollup returns the combined CI status and [review decision] for the
// head commit of a PR.
//
// Check runs and commit statuses whose context name is in excludedContexts
// are left out entirely, they influence neither the returned CIStatus nor
// the Statuses slice. This is how a caller that itself reports a status for
// the commit avoids waiting on its own check.
//
// The returned [StatusRollupResult.CIStatus] is [CIStatusPending] if one or
// more of the remaining checks or statuses are in pending state.
// It is [CIStatusSuccess] if no check or status is in pending state and no
// required one failed.
// If a required check or status is in failed state the CIStatus is
// [CIStatusFailure].
//
// [review decision]: https://docs.github.com/en/graphql/reference/enums#pullrequestreviewdecision
func (clt *Client) StatusRollup(ctx context.Context, owner, repo string, prNumber int, excludedContexts map[string]struct{}) (*StatusRollupResult, error) {
	queryResult, err := clt.reviewAndCIStatus(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, clt.wrapGraphQLRetryableErrors(err)
	}

	statuses, err := toCIJobStatuses(
		queryResult.RequiredStatusCheckContexts,
		queryResult.CheckRuns,
		queryResult.StatusContext,
		excludedContexts,
	)
	if err != nil {
		return nil, err
	}

	return &StatusRollupResult{
		ReviewDecision: ReviewDecision(queryResult.ReviewDecision),
		CIStatus:       overallCIStatus(statuses),
		Statuses:       statuses,
		Commit:         queryResult.Commit,
	}, nil
}

func overallCIStatus(statuses []*CIJobStatus) CIStatus {
	result := CIStatusSuccess

	for _, status := range statuses {
		if status.Status == CIStatusPending {
			result = CIStatusPending
			continue
		}

		if status.Required && status.Status == CIStatusFailure {
			return CIStatusFailure
		}
	}

	return result
}

func toCIJobStatuses(
	requiredChecks []string,
	checkRuns []*queryCheckStatus,
	commitStatuses []*queryStatusContext,
	excludedContexts map[string]struct{},
) ([]*CIJobStatus, error) {
	statusesByName := make(map[string]*CIJobStatus, len(checkRuns)+len(commitStatuses)+len(requiredChecks))

	excluded := func(name string) bool {
		_, exists := excludedContexts[name]
		return exists
	}

	for _, context := range requiredChecks {
		if excluded(context) {
			continue
		}

		if _, exists := statusesByName[context]; exists {
			return nil, fmt.Errorf("found 2 required status with the same context values: %q, context values must be unique", context)
		}

		statusesByName[context] = &CIJobStatus{
			Name:     context,
			Status:   CIStatusPending,
			Required: true,
		}
	}

	for _, run := range checkRuns {
		if excluded(run.Name) {
			continue
		}

		status, err := checkRunResultToCiStatus(run.Status, run.Conclusion)
		if err != nil {
			return nil, fmt.Errorf("converting checkRun %q CIstatus failed: %w", run.Name, err)
		}

		if entry, exists := statusesByName[run.Name]; exists {
			entry.Status = status
			continue
		}

		statusesByName[run.Name] = &CIJobStatus{
			Name:     run.Name,
			Status:   status,
			Required: false,
		}
	}

	for _, commitStatus := range commitStatuses {
		if excluded(commitStatus.Context) {
			continue
		}

		status, err := contextStatusStateToCIStatus(commitStatus.State)
		if err != nil {
			return nil, fmt.Errorf("converting %q status context to CIstatus failed: %w",
				commitStatus.Context, err)
		}

		if entry, exists := statusesByName[commitStatus.Context]; exists {
			entry.Status = status
			continue
		}

		statusesByName[commitStatus.Context] = &CIJobStatus{
			Name:     commitStatus.Context,
			Status:   status,
			Required: false,
		}
	}

	result := make([]*CIJobStatus, 0, len(statusesByName))
	for _, status := range statusesByName {
		result = append(result, status)
	}

	return result, nil
}

func checkRunResultToCiStatus(status githubv4.CheckStatusState, conclusion githubv4.CheckConclusionState) (CIStatus, error) {
	switch status {
	case githubv4.CheckStatusStateInProgress,
		githubv4.CheckStatusStatePending,
		githubv4.CheckStatusStateQueued,
		githubv4.CheckStatusStateRequested,
		githubv4.CheckStatusStateWaiting:
		return CIStatusPending, nil

	case (githubv4.CheckStatusStateCompleted):
		return checkConclusiontoCIStatus(conclusion)

	default:
		return "", fmt.Errorf("unsupported status value: %q", status)
	}
}

func checkConclusiontoCIStatus(conclusion githubv4.CheckConclusionState) (CIStatus, error) {
	switch conclusion {
	case githubv4.CheckConclusionStateCancelled,
		githubv4.CheckConclusionStateFailure,
		githubv4.CheckConclusionStateStale,
		githubv4.CheckConclusionStateStartupFailure,
		githubv4.CheckConclusionStateTimedOut:
		return CIStatusFailure, nil

	case (githubv4.CheckConclusionStateActionRequired):
		return CIStatusPending, nil

	case githubv4.CheckConclusionStateNeutral,
		githubv4.CheckConclusionStateSkipped,
		githubv4.CheckConclusionStateSuccess:
		return CIStatusSuccess, nil
	default:
		return "", fmt.Errorf("unsupported conclusion value: %q", conclusion)
	}
}

type queryCheckStatus struct {
	Name       string
	Conclusion githubv4.CheckConclusionState
	Status     githubv4.CheckStatusState
}

type queryStatusContext struct {
	State   githubv4.StatusState
	Context string
}

type queryCIStatusResult struct {
	ReviewDecision              githubv4.PullRequestReviewDecision
	RequiredStatusCheckContexts []string
	CheckRuns                   []*queryCheckStatus
	StatusContext               []*queryStatusContext
	Commit                      string
}

func (clt *Client) reviewAndCIStatus(ctx context.Context, owner, repo string, prNumber int) (*queryCIStatusResult, error) {
	type graphQLQueryCIStatus struct {
		Repository struct {
			PullRequest struct {
				ReviewDecision githubv4.PullRequestReviewDecision

				BaseRef struct {
					BranchProtectionRule struct {
						// RequiredStatusCheckContexts
						// contains required commit
						// statuses and checkRuns.
						RequiredStatusCheckContexts []string
					}
				}

				Commits struct {
					Nodes []struct {
						Commit struct {
							Oid               string
							StatusCheckRollup struct {
								State    githubv4.StatusState
								Contexts struct {
									PageInfo struct {
										EndCursor   string
										HasNextPage bool
									}
									Edges []struct {
										Node struct {
											CheckRun      queryCheckStatus   `graphql:"... on CheckRun"`
											StatusContext queryStatusContext `graphql:"... on StatusContext"`
										}
									}
								} `graphql:"contexts(first: $contextsFirst, after: $contextsAfter)"`
							}
						}
					}
				} `graphql:"commits(last: $commitsLast)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	var prHEADCommitID string
	var result queryCIStatusResult

	vars := map[string]any{
		"owner":         githubv4.String(owner),
		"name":          githubv4.String(repo),
		"number":        githubv4.Int(prNumber),
		"commitsLast":   githubv4.Int(1),
		"contextsFirst": githubv4.Int(100),
		"contextsAfter": (*githubv4.String)(nil),
	}

	for {
		var q graphQLQueryCIStatus

		err := clt.graphQLClt.Query(ctx, &q, vars)
		if err != nil {
			return nil, err
		}

		if len(q.Repository.PullRequest.Commits.Nodes) == 0 {
			return nil, errors.New("github returned a pull request object without commits")
		}

		commitsNode := q.Repository.PullRequest.Commits.Nodes[0].Commit

		if prHEADCommitID == "" {
			prHEADCommitID = commitsNode.Oid
		} else if prHEADCommitID != commitsNode.Oid {
			// the PR head changed while we were paginating,
			// restart with the new head commit
			vars["contextsAfter"] = (*githubv4.String)(nil)
			prHEADCommitID = ""
			result.CheckRuns = nil
			result.StatusContext = nil

			continue
		}

		for _, edge := range commitsNode.StatusCheckRollup.Contexts.Edges {
			node := edge.Node
			if node.CheckRun.Name != "" && node.StatusContext.Context != "" {
				return nil, fmt.Errorf("internal error: node contains checkRun and context, expecting only one")
			}

			if node.CheckRun.Name != "" {
				result.CheckRuns = append(result.CheckRuns, &node.CheckRun)
				continue
			}

			result.StatusContext = append(result.StatusContext, &node.StatusContext)
		}

		pageInfo := commitsNode.StatusCheckRollup.Contexts.PageInfo
		if !pageInfo.HasNextPage {
			result.ReviewDecision = q.Repository.PullRequest.ReviewDecision
			result.RequiredStatusCheckContexts = q.Repository.PullRequest.BaseRef.BranchProtectionRule.RequiredStatusCheckContexts
			result.Commit = prHEADCommitID

			return &result, nil
		}

		if pageInfo.EndCursor == "" {
			return nil, fmt.Errorf("retrieving all contexts failed, HasNextPage is true, expected non-empty EndCursor")
		}

		vars["contextsAfter"] = githubv4.String(pageInfo.EndCursor)
	}
}

func contextStatusStateToCIStatus(state githubv4.StatusState) (CIStatus, error) {
	switch state {
	case githubv4.StatusStateError,
		githubv4.StatusStateFailure:
		return CIStatusFailure, nil

	case githubv4.StatusStateExpected,
		githubv4.StatusStatePending:
		return CIStatusPending, nil

	case githubv4.StatusStateSuccess:
		return CIStatusSuccess, nil

	default:
		return "", fmt.Errorf("unsupported status state value: %q", state)
	}
}
