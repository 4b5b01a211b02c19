package automerge

import (
	"errors"
	"fmt"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/mergomat/mergomat/internal/logfields"
)

// Repository identifies a github repository by owner and name.
type Repository struct {
	Owner          string
	RepositoryName string
}

func (r *Repository) String() string {
	return r.Owner + "/" + r.RepositoryName
}

// PullRequest holds the pull request fields that the automerger evaluates.
type PullRequest struct {
	Number     int
	Branch     string
	Author     string
	Title      string
	HeadCommit string

	LogFields []zap.Field
}

func NewPullRequest(nr int, branch, author, title, headCommit string) (*PullRequest, error) {
	if nr <= 0 {
		return nil, fmt.Errorf("number is %d, must be >0", nr)
	}

	if branch == "" {
		return nil, errors.New("branch is empty")
	}

	return &PullRequest{
		Number:     nr,
		Branch:     branch,
		Author:     author,
		Title:      title,
		HeadCommit: headCommit,
		LogFields: []zap.Field{
			logfields.PullRequest(nr),
			logfields.Branch(branch),
			logfields.Author(author),
			logfields.Commit(headCommit),
		},
	}, nil
}

func NewPullRequestFromEvent(ev *github.PullRequestEvent) (*PullRequest, error) {
	if ev == nil {
		return nil, errors.New("github pull request event is nil")
	}

	return NewPullRequest(
		ev.GetPullRequest().GetNumber(),
		ev.GetPullRequest().GetHead().GetRef(),
		ev.GetPullRequest().GetUser().GetLogin(),
		ev.GetPullRequest().GetTitle(),
		ev.GetPullRequest().GetHead().GetSHA(),
	)
}

func NewPullRequestFromGithub(pr *github.PullRequest) (*PullRequest, error) {
	if pr == nil {
		return nil, errors.New("github pull request object is nil")
	}

	return NewPullRequest(
		pr.GetNumber(),
		pr.GetHead().GetRef(),
		pr.GetUser().GetLogin(),
		pr.GetTitle(),
		pr.GetHead().GetSHA(),
	)
}
