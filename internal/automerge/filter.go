package automerge

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mergomat/mergomat/internal/logfields"
)

const filterQueryTimeout = 10 * time.Second

// matchesFilterQuery evaluates the configured jq filter query on the JSON
// webhook event. It returns true when no query is configured or the query
// evaluated to true for the event.
// Evaluation errors are logged and treated as a non-match.
func (a *Automerger) matchesFilterQuery(logger *zap.Logger, eventJSON []byte) bool {
	if a.filterQuery == nil {
		return true
	}

	var event any

	if err := json.Unmarshal(eventJSON, &event); err != nil {
		logger.Error(
			"event ignored, unmarshalling json payload failed",
			logfields.Event("event_ignored"),
			zap.Error(err),
		)

		return false
	}

	// the query must terminate, guard against pathological queries
	deadline := time.Now().Add(filterQueryTimeout)

	iter := a.filterQuery.Run(event)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := v.(error); isErr {
			logger.Info(
				"event ignored, filter query evaluation failed",
				logfields.Event("event_ignored"),
				zap.Error(err),
			)

			return false
		}

		if matched, isBool := v.(bool); isBool && matched {
			return true
		}

		if time.Now().After(deadline) {
			logger.Warn(
				"event ignored, filter query evaluation timed out",
				logfields.Event("event_ignored"),
			)

			return false
		}
	}

	logger.Debug(
		"event ignored, filter query did not match",
		logfields.Event("event_ignored"),
	)

	return false
}
