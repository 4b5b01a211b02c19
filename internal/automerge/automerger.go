// Package automerge merges dependency update pull requests automatically
// after their status checks succeeded.
package automerge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/google/go-github/v59/github"

	"github.com/mergomat/mergomat/internal/depupdate"
	"github.com/mergomat/mergomat/internal/githubclt"
	"github.com/mergomat/mergomat/internal/logfields"
	"github.com/mergomat/mergomat/internal/mergomaterr"
	"github.com/mergomat/mergomat/internal/period"
	github_prov "github.com/mergomat/mergomat/internal/provider/github"
)

const loggerName = "automerger"

//go:generate mockgen -source=automerger.go -destination=mocks/automerger.go -package mocks

// GithubClient is the github API interface that the Automerger uses.
type GithubClient interface {
	StatusRollup(ctx context.Context, owner, repo string, prNumber int, excludedContexts map[string]struct{}) (*githubclt.StatusRollupResult, error)
	EnableAutoMerge(ctx context.Context, owner, repo string, prNumber int, method githubclt.MergeMethod) error
	MergePullRequest(ctx context.Context, owner, repo string, prNumber int, method githubclt.MergeMethod, commitMsg string) error
	AddLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error
	CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error
	ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator
}

// Config is the configuration of an Automerger.
type Config struct {
	Repositories []Repository
	// BotLogins are the github logins whose pull requests are auto-merged.
	BotLogins []string
	// UpdateTypes are the dependency update types that may be merged
	// without human review.
	UpdateTypes []depupdate.Type
	MergeMethod githubclt.MergeMethod
	// FilterQuery is an optional jq query that is evaluated on the JSON
	// webhook event, only events for that the query returns true are
	// processed.
	FilterQuery string

	CIPollInterval    time.Duration
	StatusWaitTimeout time.Duration
	// ExcludeCheckRuns are names of check runs and status contexts that
	// are ignored when the combined check status is evaluated.
	ExcludeCheckRuns     []string
	PeriodicSyncInterval time.Duration

	// MergedLabel is added to pull requests for that merging was enabled,
	// when it is empty no label is added.
	MergedLabel string
	// CommentOnFailure enables posting an issue comment on the pull
	// request when merging failed unrecoverable.
	CommentOnFailure bool
}

type inflightTask struct {
	cancel context.CancelFunc
}

type prKey struct {
	owner  string
	repo   string
	number int
}

// Automerger watches pull request webhook events of monitored repositories.
// When a pull request of a configured bot login with an allowed dependency
// update type is opened or updated, it waits until all its status checks
// passed and then enables auto-merge or merges the pull request.
// Processing runs asynchronously, one goroutine per pull request.
type Automerger struct {
	logger   *zap.Logger
	ghClient GithubClient
	retryer  *Retryer
	ch       <-chan *github_prov.Event

	monitoredRepos     map[Repository]struct{}
	botLogins          map[string]struct{}
	allowedUpdateTypes map[depupdate.Type]struct{}
	mergeMethod        githubclt.MergeMethod
	filterQuery        *gojq.Query

	ciPollInterval    time.Duration
	statusWaitTimeout time.Duration
	excludedContexts  map[string]struct{}
	syncPeriod        *period.Period

	mergedLabel      string
	commentOnFailure bool

	lock      sync.Mutex
	inflight  map[prKey]*inflightTask
	processWg sync.WaitGroup

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func New(ghClient GithubClient, retryer *Retryer, eventChan <-chan *github_prov.Event, cfg *Config) (*Automerger, error) {
	if len(cfg.Repositories) == 0 {
		return nil, errors.New("no repositories configured")
	}

	var filterQuery *gojq.Query

	if cfg.FilterQuery != "" {
		var err error

		filterQuery, err = gojq.Parse(cfg.FilterQuery)
		if err != nil {
			return nil, fmt.Errorf("parsing filter query failed: %w", err)
		}
	}

	syncPeriod, err := period.StartingNow(cfg.PeriodicSyncInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid periodic sync interval: %w", err)
	}

	monitoredRepos := make(map[Repository]struct{}, len(cfg.Repositories))
	for _, repo := range cfg.Repositories {
		monitoredRepos[repo] = struct{}{}
	}

	return &Automerger{
		logger:               zap.L().Named(loggerName),
		ghClient:             ghClient,
		retryer:              retryer,
		ch:                   eventChan,
		monitoredRepos:       monitoredRepos,
		botLogins:            toStrSet(cfg.BotLogins),
		allowedUpdateTypes:   toUpdateTypeSet(cfg.UpdateTypes),
		mergeMethod:          cfg.MergeMethod,
		filterQuery:          filterQuery,
		ciPollInterval:       cfg.CIPollInterval,
		statusWaitTimeout:    cfg.StatusWaitTimeout,
		excludedContexts:     toStrSet(cfg.ExcludeCheckRuns),
		syncPeriod:           syncPeriod,
		mergedLabel:          cfg.MergedLabel,
		commentOnFailure:     cfg.CommentOnFailure,
		inflight:             map[prKey]*inflightTask{},
		stop:                 make(chan struct{}),
	}, nil
}

// Start runs the initial synchronization and then the event loop in a
// goroutine.
func (a *Automerger) Start() {
	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		if err := a.InitSync(context.Background()); err != nil {
			a.logger.Warn(
				"initial synchronization failed",
				logfields.Event("init_sync_failed"),
				zap.Error(err),
			)
		}

		a.EventLoop()
	}()
}

// Stop stops the event loop and cancels all in-progress pull request
// operations. It blocks until all operations terminated.
func (a *Automerger) Stop() {
	a.logger.Debug("terminating", logfields.Event("automerger_terminating"))

	a.stopOnce.Do(func() { close(a.stop) })
	a.retryer.Stop()

	a.lock.Lock()
	for _, task := range a.inflight {
		task.cancel()
	}
	a.lock.Unlock()

	a.processWg.Wait()
	a.wg.Wait()

	a.logger.Debug("terminated", logfields.Event("automerger_terminated"))
}

// EventLoop processes github webhook events from the event channel and
// triggers a periodic synchronization with the monitored repositories.
// It blocks until the event channel is closed or Stop() is called.
func (a *Automerger) EventLoop() {
	syncTimes := a.syncPeriod.UpcomingRelative()

	syncTimer := time.NewTimer(time.Until(syncTimes.Next()))
	defer syncTimer.Stop()

	for {
		select {
		case event, open := <-a.ch:
			if !open {
				a.logger.Info(
					"event channel was closed, event loop terminates",
					logfields.Event("eventloop_terminating"),
				)

				return
			}

			a.processEvent(event)

		case <-syncTimer.C:
			if err := a.Sync(context.Background()); err != nil {
				a.logger.Warn(
					"periodic synchronization failed",
					logfields.Event("periodic_sync_failed"),
					zap.Error(err),
				)
			}

			syncTimer.Reset(time.Until(syncTimes.Next()))

		case <-a.stop:
			return
		}
	}
}

func (a *Automerger) processEvent(event *github_prov.Event) {
	logger := a.logger.With(event.LogFields...)
	processedEventsInc()

	ev, ok := event.Event.(*github.PullRequestEvent)
	if !ok {
		logger.Debug(
			"event ignored, not a pull request event",
			logfields.Event("event_ignored"),
		)

		return
	}

	repo := Repository{
		Owner:          ev.GetRepo().GetOwner().GetLogin(),
		RepositoryName: ev.GetRepo().GetName(),
	}

	switch action := ev.GetAction(); action {
	case "opened", "reopened", "synchronize", "ready_for_review":
		if !a.isTrigger(logger, event, ev, &repo) {
			return
		}

		pr, err := NewPullRequestFromEvent(ev)
		if err != nil {
			logger.Error(
				"event ignored, incomplete pull request information",
				logfields.Event("event_ignored"),
				zap.Error(err),
			)

			return
		}

		a.queuePR(&repo, pr, true)

	case "closed":
		a.cancelProcessing(&repo, ev.GetPullRequest().GetNumber())

	default:
		logger.Debug(
			"event ignored, irrelevant pull request action",
			logfields.Event("event_ignored"),
			zap.String("github.action", action),
		)
	}
}

// isTrigger evaluates if the pull request event qualifies for auto-merging.
// Only events of monitored repositories and configured bot logins are
// processed, if a filter query is configured it must match additionally.
func (a *Automerger) isTrigger(logger *zap.Logger, event *github_prov.Event, ev *github.PullRequestEvent, repo *Repository) bool {
	if _, exists := a.monitoredRepos[*repo]; !exists {
		logger.Debug(
			"event ignored, repository is not monitored",
			logfields.Event("event_ignored"),
		)

		return false
	}

	author := ev.GetPullRequest().GetUser().GetLogin()
	if _, exists := a.botLogins[author]; !exists {
		logger.Debug(
			"event ignored, pull request author is not a configured bot login",
			logfields.Event("event_ignored"),
		)
		skippedPRsInc(repo, skipReasonAuthor)

		return false
	}

	if !a.matchesFilterQuery(logger, event.JSON) {
		skippedPRsInc(repo, skipReasonFilter)
		return false
	}

	return true
}

// queuePR starts processing the pull request in a goroutine.
// When an operation for the same pull request is already running and
// supersede is true, the running operation is cancelled first. With supersede
// set to false the pull request is skipped instead.
func (a *Automerger) queuePR(repo *Repository, pr *PullRequest, supersede bool) {
	key := prKey{owner: repo.Owner, repo: repo.RepositoryName, number: pr.Number}

	a.lock.Lock()

	if running, exists := a.inflight[key]; exists {
		if !supersede {
			a.lock.Unlock()
			return
		}

		running.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := inflightTask{cancel: cancel}
	a.inflight[key] = &task
	inflightPRsInc()

	a.processWg.Add(1)
	a.lock.Unlock()

	go func() {
		defer a.processWg.Done()
		defer a.removeInflight(key, &task)
		defer cancel()

		a.processPR(ctx, repo, pr)
	}()
}

func (a *Automerger) removeInflight(key prKey, task *inflightTask) {
	a.lock.Lock()
	defer a.lock.Unlock()

	// a newer operation for the same PR may have replaced the entry
	if a.inflight[key] == task {
		delete(a.inflight, key)
		inflightPRsDec()
	}
}

func (a *Automerger) cancelProcessing(repo *Repository, prNumber int) {
	a.lock.Lock()
	defer a.lock.Unlock()

	key := prKey{owner: repo.Owner, repo: repo.RepositoryName, number: prNumber}
	if task, exists := a.inflight[key]; exists {
		task.cancel()
	}
}

// processPR classifies the dependency update, waits until the status checks
// of the pull request passed and merges it.
func (a *Automerger) processPR(ctx context.Context, repo *Repository, pr *PullRequest) {
	logFields := append([]zap.Field{
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.RepositoryName),
	}, pr.LogFields...)

	update := depupdate.ClassifyPR(pr.Title, pr.Branch)
	logFields = append(logFields,
		logfields.UpdateType(string(update.Type)),
		logfields.Package(update.Package),
	)

	logger := a.logger.With(logFields...)

	if _, allowed := a.allowedUpdateTypes[update.Type]; !allowed {
		logger.Info(
			"pull request skipped, update type is not auto-merged",
			logfields.Event("pull_request_skipped"),
		)
		skippedPRsInc(repo, skipReasonUpdateType)

		return
	}

	rollup, err := a.awaitChecks(ctx, repo, pr, logFields)
	if err != nil {
		a.handleProcessingError(ctx, logger, repo, pr, "waiting for status checks", err)
		return
	}

	logger.Debug(
		"all status checks passed",
		logfields.Event("status_checks_passed"),
		zap.String("github.review_decision", string(rollup.ReviewDecision)),
	)

	if err := a.merge(ctx, repo, pr, logFields); err != nil {
		a.handleProcessingError(ctx, logger, repo, pr, "merging", err)
		return
	}

	mergesInc(repo)
	logger.Info(
		"auto-merge enabled for dependency update",
		logfields.Event("pull_request_merge_enabled"),
	)

	a.addMergedLabel(ctx, logger, repo, pr, logFields)
}

// awaitChecks polls the combined check status of the pull request until all
// required checks reached a terminal state or the wait timeout expired.
// It returns errChecksFailed when a required check failed.
func (a *Automerger) awaitChecks(ctx context.Context, repo *Repository, pr *PullRequest, logFields []zap.Field) (*githubclt.StatusRollupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.statusWaitTimeout)
	defer cancel()

	var result *githubclt.StatusRollupResult

	err := a.retryer.Run(ctx, func(ctx context.Context) error {
		rollup, err := a.ghClient.StatusRollup(ctx, repo.Owner, repo.RepositoryName, pr.Number, a.excludedContexts)
		if err != nil {
			return err
		}

		switch rollup.CIStatus {
		case githubclt.CIStatusPending:
			return mergomaterr.NewRetryableError(
				errors.New("status checks are pending"),
				time.Now().Add(a.ciPollInterval),
			)

		case githubclt.CIStatusFailure:
			return fmt.Errorf("%w: %s", errChecksFailed, failedCheckNames(rollup.Statuses))
		}

		result = rollup

		return nil
	}, logFields)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func failedCheckNames(statuses []*githubclt.CIJobStatus) string {
	var names []string

	for _, status := range statuses {
		if status.Required && status.Status == githubclt.CIStatusFailure {
			names = append(names, status.Name)
		}
	}

	return strings.Join(names, ", ")
}

// merge enables auto-merge for the pull request. When the repository does not
// allow auto-merge it falls back to merging the pull request directly.
func (a *Automerger) merge(ctx context.Context, repo *Repository, pr *PullRequest, logFields []zap.Field) error {
	return a.retryer.Run(ctx, func(ctx context.Context) error {
		err := a.ghClient.EnableAutoMerge(ctx, repo.Owner, repo.RepositoryName, pr.Number, a.mergeMethod)
		if err == nil {
			return nil
		}

		if errors.Is(err, githubclt.ErrAutoMergeNotAllowed) {
			return a.ghClient.MergePullRequest(ctx, repo.Owner, repo.RepositoryName, pr.Number, a.mergeMethod, "")
		}

		return err
	}, logFields)
}

func (a *Automerger) addMergedLabel(ctx context.Context, logger *zap.Logger, repo *Repository, pr *PullRequest, logFields []zap.Field) {
	if a.mergedLabel == "" {
		return
	}

	err := a.retryer.Run(ctx, func(ctx context.Context) error {
		return a.ghClient.AddLabel(ctx, repo.Owner, repo.RepositoryName, pr.Number, a.mergedLabel)
	}, logFields)
	if err != nil {
		logger.Warn(
			"adding label to pull request failed",
			logfields.Event("adding_label_failed"),
			logfields.Label(a.mergedLabel),
			zap.Error(err),
		)

		return
	}

	logger.Debug(
		"label added to pull request",
		logfields.Event("label_added"),
		logfields.Label(a.mergedLabel),
	)
}

func (a *Automerger) handleProcessingError(ctx context.Context, logger *zap.Logger, repo *Repository, pr *PullRequest, op string, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrRetryerStopped):
		logger.Debug(
			"pull request operation cancelled",
			logfields.Event("pull_request_operation_cancelled"),
			zap.String("operation", op),
		)

	case errors.Is(err, errChecksFailed):
		logger.Info(
			"pull request skipped, status checks failed",
			logfields.Event("pull_request_skipped"),
			zap.Error(err),
		)
		skippedPRsInc(repo, skipReasonChecksFailed)

	case errors.Is(err, context.DeadlineExceeded):
		logger.Info(
			"pull request skipped, timeout expired before status checks finished",
			logfields.Event("pull_request_skipped"),
			zap.Error(err),
		)
		skippedPRsInc(repo, skipReasonTimeout)

	case errors.Is(err, githubclt.ErrPullRequestIsClosed):
		logger.Info(
			"pull request skipped, it was closed in the meantime",
			logfields.Event("pull_request_skipped"),
			zap.Error(err),
		)

	default:
		logger.Error(
			"processing pull request failed",
			logfields.Event("pull_request_processing_failed"),
			zap.String("operation", op),
			zap.Error(err),
		)
		failuresInc(repo)
		a.commentFailure(ctx, logger, repo, pr, op, err)
	}
}

func (a *Automerger) commentFailure(ctx context.Context, logger *zap.Logger, repo *Repository, pr *PullRequest, op string, opErr error) {
	if !a.commentOnFailure {
		return
	}

	if ctx.Err() != nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	comment := fmt.Sprintf("mergomat: %s failed: %s", op, opErr)
	if err := a.ghClient.CreateIssueComment(ctx, repo.Owner, repo.RepositoryName, pr.Number, comment); err != nil {
		logger.Warn(
			"posting failure comment on pull request failed",
			logfields.Event("posting_comment_failed"),
			zap.Error(err),
		)
	}
}
