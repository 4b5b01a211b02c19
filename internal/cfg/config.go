// Package cfg loads the mergomat configuration file.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/mergomat/mergomat/internal/depupdate"
)

const (
	DefCIPollInterval       = 15 * time.Second
	DefStatusWaitTimeout    = 2 * time.Hour
	DefPeriodicSyncInterval = 30 * time.Minute
	DefMergeMethod          = "squash"
)

// DefBotLogins are the PR author logins that are processed when the
// configuration file does not list any.
var DefBotLogins = []string{"dependabot[bot]"}

// DefUpdateTypes are the update classifications that are auto-merged when the
// configuration file does not list any.
var DefUpdateTypes = []string{
	string(depupdate.TypePatch),
	string(depupdate.TypeMinor),
	string(depupdate.TypeMajor),
}

type Config struct {
	HTTPListenAddr            string     `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string     `toml:"https_server_listen_addr"`
	HTTPSCertFile             string     `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string     `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string     `toml:"github_webhook_endpoint"`
	HTTPMetricsEndpoint       string     `toml:"metrics_endpoint"`
	GithubWebHookSecret       string     `toml:"github_webhook_secret"`
	GithubAPIToken            string     `toml:"github_api_token"`
	LogFormat                 string     `toml:"log_format"`
	LogTimeKey                string     `toml:"log_time_key"`
	LogLevel                  string     `toml:"log_level"`
	Automerger                Automerger `toml:"automerger"`
}

type GithubRepository struct {
	Owner          string `toml:"owner"`
	RepositoryName string `toml:"repository"`
}

func (r *GithubRepository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.RepositoryName)
}

// Automerger configures which dependency update pull requests are merged
// automatically and how.
type Automerger struct {
	// BotLogins are the PR author logins that identify dependency update
	// bots.
	BotLogins    []string           `toml:"bot_logins"`
	Repositories []GithubRepository `toml:"repository"`
	// UpdateTypes lists the update classifications that are merged
	// automatically, a subset of: patch, minor, major.
	UpdateTypes []string `toml:"update_types"`
	// MergeMethod is one of: merge, squash, rebase.
	MergeMethod string `toml:"merge_method"`
	// FilterQuery is an optional jq expression that is evaluated on the
	// webhook event payload. It must return a boolean. Events for that it
	// returns false are ignored.
	FilterQuery string `toml:"filter_query"`
	// CIPollInterval is the pause between two status check queries while
	// waiting for the checks of a PR to settle.
	CIPollInterval time.Duration `toml:"ci_poll_interval"`
	// StatusWaitTimeout bounds how long mergomat waits for the status
	// checks of a single PR head commit to settle.
	StatusWaitTimeout time.Duration `toml:"status_wait_timeout"`
	// ExcludeCheckRuns lists check run or commit status context names
	// that are ignored while waiting. Contexts that mergomat itself
	// reports must be listed here to not wait on ourselves.
	ExcludeCheckRuns []string `toml:"exclude_check_runs"`
	// PeriodicSyncInterval is the pause between two runs of the sync that
	// processes open PRs for that webhook events were missed.
	PeriodicSyncInterval time.Duration `toml:"periodic_sync_interval"`
	// MergedLabel is added to a PR after auto-merge was enabled for it.
	// Empty disables labeling.
	MergedLabel string `toml:"merged_label"`
	// CommentOnFailure posts a PR comment when merging failed
	// permanently.
	CommentOnFailure bool `toml:"comment_on_failure"`
	DryRun           bool `toml:"dry_run"`
}

// Load reads a TOML configuration and applies default values for unset
// fields.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.applyDefaults()

	if err := result.validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (r *Config) applyDefaults() {
	if r.LogFormat == "" {
		r.LogFormat = "logfmt"
	}

	if r.LogLevel == "" {
		r.LogLevel = "info"
	}

	if r.HTTPMetricsEndpoint == "" {
		r.HTTPMetricsEndpoint = "/metrics"
	}

	if r.HTTPGithubWebhookEndpoint == "" {
		r.HTTPGithubWebhookEndpoint = "/listener/github"
	}

	a := &r.Automerger

	if len(a.BotLogins) == 0 {
		a.BotLogins = DefBotLogins
	}

	if len(a.UpdateTypes) == 0 {
		a.UpdateTypes = DefUpdateTypes
	}

	if a.MergeMethod == "" {
		a.MergeMethod = DefMergeMethod
	}

	if a.CIPollInterval == 0 {
		a.CIPollInterval = DefCIPollInterval
	}

	if a.StatusWaitTimeout == 0 {
		a.StatusWaitTimeout = DefStatusWaitTimeout
	}

	if a.PeriodicSyncInterval == 0 {
		a.PeriodicSyncInterval = DefPeriodicSyncInterval
	}
}

func (r *Config) validate() error {
	a := &r.Automerger

	if len(a.Repositories) == 0 {
		return errors.New("automerger: no repositories configured")
	}

	for _, repo := range a.Repositories {
		if repo.Owner == "" || repo.RepositoryName == "" {
			return fmt.Errorf("automerger: repository entry with empty owner or repository field: %q", repo.String())
		}
	}

	switch a.MergeMethod {
	case "merge", "squash", "rebase":
	default:
		return fmt.Errorf("automerger: unsupported merge_method: %q", a.MergeMethod)
	}

	for _, typ := range a.UpdateTypes {
		if _, ok := depupdate.ParseType(typ); !ok {
			return fmt.Errorf("automerger: unsupported update_types entry: %q", typ)
		}
	}

	if a.CIPollInterval < 0 || a.StatusWaitTimeout < 0 || a.PeriodicSyncInterval < 0 {
		return errors.New("automerger: intervals must be positive")
	}

	return nil
}

func (r *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(r)
}
