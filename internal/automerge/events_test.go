package automerge

import (
	"encoding/json"
	"testing"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/require"

	github_prov "github.com/mergomat/mergomat/internal/provider/github"
)

const (
	testRepoOwner = "mergomat"
	testRepoName  = "mergomat"
	testBotLogin  = "dependabot[bot]"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newPullRequestGhEvent(action, owner, repo, author, title string, prNumber int) *github.PullRequestEvent {
	return &github.PullRequestEvent{
		Action: strPtr(action),
		Number: intPtr(prNumber),
		PullRequest: &github.PullRequest{
			Number: intPtr(prNumber),
			Title:  strPtr(title),
			User:   &github.User{Login: strPtr(author)},
			Head: &github.PullRequestBranch{
				Ref: strPtr("dependabot/go_modules/pkg"),
				SHA: strPtr("5fc63e1306a966b06fd9b31e4d1e5b7a799ee653"),
			},
			Base: &github.PullRequestBranch{Ref: strPtr("main")},
		},
		Repo: &github.Repository{
			Name:  strPtr(repo),
			Owner: &github.User{Login: strPtr(owner)},
		},
	}
}

func newPullRequestEvent(t *testing.T, action, owner, repo, author, title string, prNumber int) *github_prov.Event {
	t.Helper()

	ghEvent := newPullRequestGhEvent(action, owner, repo, author, title, prNumber)

	payload, err := json.Marshal(ghEvent)
	require.NoError(t, err)

	return &github_prov.Event{
		DeliveryID: "6b7f1c40-ab01-11eb-8f5b-274ad97b8e49",
		Type:       "pull_request",
		JSON:       payload,
		Event:      ghEvent,
	}
}
