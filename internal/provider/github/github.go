// Package github receives github webhook events via HTTP and forwards them
// to event channels.
package github

import (
	"net/http"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/mergomat/mergomat/internal/logfields"
)

const loggerName = "github-event-provider"

// Provider listens for github-webhook http-requests at a http-server handler,
// validates and converts the requests to Events and forwards them to the
// registered event channels.
type Provider struct {
	logger        *zap.Logger
	webhookSecret []byte
	chans         []chan<- *Event
}

type option func(*Provider)

// WithPayloadSecret enables HMAC validation of the webhook payloads with the
// given secret.
func WithPayloadSecret(secret string) option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

func New(eventChans []chan<- *Event, opts ...option) *Provider {
	p := Provider{
		chans:  eventChans,
		logger: zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&p)
	}

	return &p
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)

	logFields := []zap.Field{
		logfields.EventProvider("github"),
		zap.String("github.delivery_id", deliveryID),
		zap.String("github.webhook_type", hookType),
	}

	logger := p.logger.With(logFields...)

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	event, err := github.ParseWebHook(hookType, payload)
	if err != nil {
		logger.Info(
			"received invalid http request, parsing failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	ev := Event{
		DeliveryID: deliveryID,
		Type:       hookType,
		JSON:       payload,
		Event:      event,
		LogFields:  append(logFields, eventLogFields(event)...),
	}

	logger = p.logger.With(ev.LogFields...)
	logger.Debug("received webhook event", logfields.Event("github_event_received"))

	for _, c := range p.chans {
		select {
		case c <- &ev:
			logger.Debug("event forwarded to channel",
				logfields.Event("github_event_forwarded"),
			)

		default:
			logger.Warn(
				"event lost, forwarding event to channel failed",
				zap.String("error", "could not forward event to channel, send would have blocked"),
				logfields.Event("github_forwarding_event_failed"),
			)

			http.Error(resp, "queue full", http.StatusServiceUnavailable)
			return
		}
	}
}

func eventLogFields(event any) []zap.Field {
	ev, ok := event.(*github.PullRequestEvent)
	if !ok {
		return nil
	}

	var result []zap.Field

	if repo := ev.GetRepo(); repo != nil {
		result = append(result,
			logfields.RepositoryOwner(repo.GetOwner().GetLogin()),
			logfields.Repository(repo.GetName()),
		)
	}

	if pr := ev.GetPullRequest(); pr != nil {
		result = append(result,
			logfields.PullRequest(pr.GetNumber()),
			logfields.Author(pr.GetUser().GetLogin()),
		)

		if head := pr.GetHead(); head != nil {
			result = append(result,
				logfields.Branch(head.GetRef()),
				logfields.Commit(head.GetSHA()),
			)
		}
	}

	return result
}
