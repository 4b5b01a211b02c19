// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mergomat/mergomat/internal/logfields"
	"github.com/mergomat/mergomat/internal/mergomaterr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

var (
	ErrPullRequestIsClosed = errors.New("pull request is closed")
	// ErrAutoMergeNotAllowed is returned by EnableAutoMerge when the
	// repository does not have the auto-merge feature enabled.
	ErrAutoMergeNotAllowed = errors.New("auto-merge is not allowed for the repository")
)

// MergeMethod is a github merge strategy.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

func (m MergeMethod) graphQL() (githubv4.PullRequestMergeMethod, error) {
	switch m {
	case MergeMethodMerge:
		return githubv4.PullRequestMergeMethodMerge, nil
	case MergeMethodSquash:
		return githubv4.PullRequestMergeMethodSquash, nil
	case MergeMethodRebase:
		return githubv4.PullRequestMergeMethodRebase, nil
	default:
		return "", fmt.Errorf("unsupported merge method: %q", m)
	}
}

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client.
// All methods return a mergomaterr.RetryableError when an operation can be
// retried. This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// EnableAutoMerge enables the auto-merge feature with the given merge method
// for a pull request. The PR is merged by github as soon as all merge
// requirements are fulfilled.
// If the repository does not allow auto-merge, ErrAutoMergeNotAllowed is
// returned and the caller can fall back to MergePullRequest.
// If the PR is closed, ErrPullRequestIsClosed is returned.
func (clt *Client) EnableAutoMerge(ctx context.Context, owner, repo string, prNumber int, method MergeMethod) error {
	gqlMethod, err := method.graphQL()
	if err != nil {
		return err
	}

	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	if pr.GetState() == "closed" {
		return ErrPullRequestIsClosed
	}

	nodeID := pr.GetNodeID()
	if nodeID == "" {
		return errors.New("got pull request object with empty node_id field")
	}

	var mutation struct {
		EnablePullRequestAutoMerge struct {
			PullRequest struct {
				Number githubv4.Int
			}
		} `graphql:"enablePullRequestAutoMerge(input: $input)"`
	}

	input := githubv4.EnablePullRequestAutoMergeInput{
		PullRequestID: githubv4.ID(nodeID),
		MergeMethod:   &gqlMethod,
	}

	err = clt.graphQLClt.Mutate(ctx, &mutation, input, nil)
	if err != nil {
		if isAutoMergeNotAllowedErr(err) {
			return fmt.Errorf("%w: %s", ErrAutoMergeNotAllowed, err)
		}

		return clt.wrapGraphQLRetryableErrors(err)
	}

	clt.logger.Debug(
		"auto-merge enabled for pull request",
		logfields.Event("github_auto_merge_enabled"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
	)

	return nil
}

// isAutoMergeNotAllowedErr matches the GraphQL error message that github
// returns when the auto-merge feature is disabled for the repository or the
// PR is already mergeable and enablePullRequestAutoMerge is rejected.
func isAutoMergeNotAllowedErr(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "auto merge is not allowed") ||
		strings.Contains(msg, "auto-merge is not allowed") ||
		strings.Contains(msg, "pull request is in clean status")
}

// MergePullRequest merges a pull request directly via the REST API.
func (clt *Client) MergePullRequest(ctx context.Context, owner, repo string, prNumber int, method MergeMethod, commitMsg string) error {
	result, _, err := clt.restClt.PullRequests.Merge(ctx, owner, repo, prNumber, commitMsg, &github.PullRequestOptions{
		MergeMethod: string(method),
	})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) {
			// 405 is returned when the PR is not in a mergeable
			// state, e.g. a check turned red between polling and
			// merging. The state can change again, retry.
			if respErr.Response.StatusCode == http.StatusMethodNotAllowed {
				return mergomaterr.NewRetryableAnytimeError(err)
			}

			// base branch was updated while merging
			if respErr.Response.StatusCode == http.StatusConflict {
				return mergomaterr.NewRetryableAnytimeError(err)
			}
		}

		return clt.wrapRetryableErrors(err)
	}

	if !result.GetMerged() {
		return fmt.Errorf("github did not merge the pull request: %s", result.GetMessage())
	}

	clt.logger.Debug(
		"pull request merged",
		logfields.Event("github_pull_request_merged"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
		logfields.Commit(result.GetSHA()),
	)

	return nil
}

// CreateIssueComment creates a comment in an issue or pull request.
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// AddLabel adds a label to a pull request or issue.
func (clt *Client) AddLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error {
	if label == "" {
		// github removes all labels when none is provided, fail
		// instead if an empty label value is passed because of a bug
		return errors.New("provided label is empty")
	}

	_, _, err := clt.restClt.Issues.AddLabelsToIssue(ctx, owner, repo, pullRequestOrIssueNumber, []string{label})
	return clt.wrapRetryableErrors(err)
}

type PRIterator interface {
	Next() (*github.PullRequest, error)
}

type PRIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string

	filterState   string
	sortOrder     string
	sortDirection string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

// Next returns the next pullRequest.
// When the last result was returned a nil PullRequest is returned.
func (it *PRIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State:     it.filterState,
		Sort:      it.sortOrder,
		Direction: it.sortDirection,
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, it.clt.wrapRetryableErrors(err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs

	return it.Next()
}

// ListPullRequests returns an iterator for receiving all pull requests.
// The parameters state, sort, sortDirection expect the same values than their
// pendants in the struct github.PullRequestListOptions.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) PRIterator { // interface is returned to make the method mockable
	return &PRIter{
		clt:           clt,
		ctx:           ctx,
		owner:         owner,
		repo:          repo,
		sortOrder:     sort,
		sortDirection: sortDirection,
		filterState:   state,
		nextPage:      1,
	}
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return mergomaterr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return mergomaterr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return mergomaterr.NewRetryableAnytimeError(err)
	}

	return err
}
