package automerge

import (
	"context"

	"go.uber.org/zap"

	"github.com/mergomat/mergomat/internal/githubclt"
	"github.com/mergomat/mergomat/internal/logfields"
)

// DryGithubClient is a github client that only simulates write operations.
// Read operations are forwarded to a real client.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: zap.L().Named("dry_github_client"),
	}
}

func (c *DryGithubClient) StatusRollup(ctx context.Context, owner, repo string, prNumber int, excludedContexts map[string]struct{}) (*githubclt.StatusRollupResult, error) {
	return c.clt.StatusRollup(ctx, owner, repo, prNumber, excludedContexts)
}

func (c *DryGithubClient) EnableAutoMerge(_ context.Context, owner, repo string, prNumber int, method githubclt.MergeMethod) error {
	c.logger.Info(
		"simulated enabling auto-merge",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
		zap.String("github.merge_method", string(method)),
	)

	return nil
}

func (c *DryGithubClient) MergePullRequest(_ context.Context, owner, repo string, prNumber int, method githubclt.MergeMethod, _ string) error {
	c.logger.Info(
		"simulated merging pull request",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
		zap.String("github.merge_method", string(method)),
	)

	return nil
}

func (c *DryGithubClient) AddLabel(_ context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error {
	c.logger.Info(
		"simulated adding label",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pullRequestOrIssueNumber),
		logfields.Label(label),
	)

	return nil
}

func (c *DryGithubClient) CreateIssueComment(_ context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	c.logger.Info(
		"simulated posting issue comment",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(issueOrPRNr),
		zap.String("github.comment", comment),
	)

	return nil
}

func (c *DryGithubClient) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator {
	return c.clt.ListPullRequests(ctx, owner, repo, state, sort, sortDirection)
}
