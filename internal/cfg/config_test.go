package cfg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
http_server_listen_addr = ":8085"
github_webhook_endpoint = "/listener/github"
github_webhook_secret = "hook-secret"
github_api_token = "api-token"
log_format = "logfmt"
log_level = "debug"

[automerger]
bot_logins = ["dependabot[bot]", "renovate[bot]"]
update_types = ["patch", "minor"]
merge_method = "squash"
ci_poll_interval = "15s"
status_wait_timeout = "1h"
exclude_check_runs = ["mergomat"]
merged_label = "automerge-enabled"

[[automerger.repository]]
owner = "mergomat"
repository = "mergomat"
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8085", config.HTTPListenAddr)
	assert.Equal(t, "/listener/github", config.HTTPGithubWebhookEndpoint)
	assert.Equal(t, "hook-secret", config.GithubWebHookSecret)
	assert.Equal(t, "api-token", config.GithubAPIToken)
	assert.Equal(t, "debug", config.LogLevel)

	a := config.Automerger
	assert.Equal(t, []string{"dependabot[bot]", "renovate[bot]"}, a.BotLogins)
	assert.Equal(t, []string{"patch", "minor"}, a.UpdateTypes)
	assert.Equal(t, "squash", a.MergeMethod)
	assert.Equal(t, 15*time.Second, a.CIPollInterval)
	assert.Equal(t, time.Hour, a.StatusWaitTimeout)
	assert.Equal(t, []string{"mergomat"}, a.ExcludeCheckRuns)
	assert.Equal(t, "automerge-enabled", a.MergedLabel)

	require.Len(t, a.Repositories, 1)
	assert.Equal(t, "mergomat", a.Repositories[0].Owner)
	assert.Equal(t, "mergomat", a.Repositories[0].RepositoryName)
}

func TestLoadAppliesDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(`
[[automerger.repository]]
owner = "o"
repository = "r"
`))
	require.NoError(t, err)

	a := config.Automerger
	assert.Equal(t, DefBotLogins, a.BotLogins)
	assert.Equal(t, DefUpdateTypes, a.UpdateTypes)
	assert.Equal(t, DefMergeMethod, a.MergeMethod)
	assert.Equal(t, DefCIPollInterval, a.CIPollInterval)
	assert.Equal(t, DefStatusWaitTimeout, a.StatusWaitTimeout)
	assert.Equal(t, DefPeriodicSyncInterval, a.PeriodicSyncInterval)
	assert.Equal(t, "logfmt", config.LogFormat)
	assert.Equal(t, "/metrics", config.HTTPMetricsEndpoint)
}

func TestLoadFailsWithoutRepositories(t *testing.T) {
	_, err := Load(strings.NewReader(`log_level = "info"`))
	require.Error(t, err)
}

func TestLoadFailsOnInvalidMergeMethod(t *testing.T) {
	_, err := Load(strings.NewReader(`
[automerger]
merge_method = "fast-forward"

[[automerger.repository]]
owner = "o"
repository = "r"
`))
	require.Error(t, err)
}

func TestLoadFailsOnInvalidUpdateType(t *testing.T) {
	_, err := Load(strings.NewReader(`
[automerger]
update_types = ["patch", "gigantic"]

[[automerger.repository]]
owner = "o"
repository = "r"
`))
	require.Error(t, err)
}
