package github

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	go_github "github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const pullRequestOpenedPayload = `{
  "action": "opened",
  "number": 7,
  "pull_request": {
    "number": 7,
    "title": "Bump foo from 1.0.0 to 1.0.1",
    "user": {"login": "dependabot[bot]"},
    "head": {"ref": "dependabot/go_modules/foo-1.0.1", "sha": "8ad9dec4298f6b8f020997373cf4fe22005f2c06"},
    "base": {"ref": "main"}
  },
  "repository": {
    "name": "mergomat",
    "owner": {"login": "mergomat"}
  }
}`

func newPullRequestOpenedHTTPReq() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/listener/github", strings.NewReader(pullRequestOpenedPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-GitHub-Delivery", "3355fab0-b22c-11eb-9936-51d9540c0cdc")

	return req
}

func TestHTTPHandlerEventParsing(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *Event, 1)
	provider := New([]chan<- *Event{evChan})

	respRecorder := httptest.NewRecorder()
	provider.HTTPHandler(respRecorder, newPullRequestOpenedHTTPReq())
	require.Equal(t, 200, respRecorder.Code)

	event := <-evChan

	assert.Equal(t, "3355fab0-b22c-11eb-9936-51d9540c0cdc", event.DeliveryID)
	assert.Equal(t, "pull_request", event.Type)
	assert.Equal(t, pullRequestOpenedPayload, string(event.JSON))

	prEvent, ok := event.Event.(*go_github.PullRequestEvent)
	require.True(t, ok)
	assert.Equal(t, "opened", prEvent.GetAction())
	assert.Equal(t, 7, prEvent.GetPullRequest().GetNumber())
	assert.Equal(t, "dependabot[bot]", prEvent.GetPullRequest().GetUser().GetLogin())
}

func TestHTTPHandlerRejectsInvalidSignature(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *Event, 1)
	provider := New([]chan<- *Event{evChan}, WithPayloadSecret("webhook-secret"))

	req := newPullRequestOpenedHTTPReq()
	req.Header.Set("X-Hub-Signature-256", "sha256=0000000000000000000000000000000000000000000000000000000000000000")

	respRecorder := httptest.NewRecorder()
	provider.HTTPHandler(respRecorder, req)

	require.Equal(t, http.StatusBadRequest, respRecorder.Code)
	require.Empty(t, evChan)
}

func TestHTTPHandlerRespondsUnavailableWhenChannelIsFull(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *Event) // unbuffered, send always blocks
	provider := New([]chan<- *Event{evChan})

	respRecorder := httptest.NewRecorder()
	provider.HTTPHandler(respRecorder, newPullRequestOpenedHTTPReq())

	require.Equal(t, http.StatusServiceUnavailable, respRecorder.Code)
}
