package automerge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mergomat/mergomat/internal/logfields"
)

type syncStat struct {
	StartTime time.Time
	Seen      int
	Queued    int
}

func (s *syncStat) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("pull_requests_seen", s.Seen),
		zap.Int("pull_requests_queued", s.Queued),
		zap.Duration("sync_duration", time.Since(s.StartTime)),
	}
}

// InitSync queues all open bot pull requests of the monitored repositories
// for processing.
// It is run on startup to pick up pull requests whose webhook events were
// missed while the process was down.
func (a *Automerger) InitSync(ctx context.Context) error {
	for repo := range a.monitoredRepos {
		repo := repo

		if err := a.sync(ctx, &repo); err != nil {
			return fmt.Errorf("syncing %s failed: %w", repo.String(), err)
		}
	}

	return nil
}

// Sync is the periodic variant of InitSync. It continues with the next
// repository when syncing one fails and returns the combined errors.
func (a *Automerger) Sync(ctx context.Context) error {
	var errs []error

	for repo := range a.monitoredRepos {
		repo := repo

		if err := a.sync(ctx, &repo); err != nil {
			errs = append(errs, fmt.Errorf("syncing %s failed: %w", repo.String(), err))
		}
	}

	return errors.Join(errs...)
}

func (a *Automerger) sync(ctx context.Context, repo *Repository) error {
	logFields := []zap.Field{
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.RepositoryName),
	}
	logger := a.logger.With(logFields...)

	logger.Debug(
		"synchronizing pull requests with repository",
		logfields.Event("sync_started"),
	)

	stat := syncStat{StartTime: time.Now()}

	err := a.retryer.Run(ctx, func(ctx context.Context) error {
		stat = syncStat{StartTime: time.Now()}

		it := a.ghClient.ListPullRequests(ctx, repo.Owner, repo.RepositoryName, "open", "created", "asc")

		for {
			ghPR, err := it.Next()
			if err != nil {
				return err
			}

			if ghPR == nil {
				return nil
			}

			stat.Seen++

			if _, isBot := a.botLogins[ghPR.GetUser().GetLogin()]; !isBot {
				continue
			}

			pr, err := NewPullRequestFromGithub(ghPR)
			if err != nil {
				logger.Warn(
					"ignoring pull request with incomplete information",
					zap.Error(err),
				)

				continue
			}

			a.queuePR(repo, pr, false)
			stat.Queued++
		}
	}, logFields)
	if err != nil {
		return err
	}

	logger.Info(
		"pull requests synchronized with repository",
		append(stat.LogFields(), logfields.Event("sync_finished"))...,
	)

	return nil
}
