// Package collab defines the three out-of-scope external collaborators
// (C18) as narrow interfaces with one real, minimal implementation each:
// an OIDC client-credentials token source, a RabbitMQ-shaped recording-job
// source, and a mailer. None of these carry the design complexity §1 scopes
// into this repo, but each gets a concrete adapter so cmd/recorder and
// cmd/gateway wire against something real instead of a TODO.
package collab

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource produces a bearer token for the controller HTTP client,
// refreshed on demand. Grounded on golang.org/x/oauth2/clientcredentials —
// the one domain dependency in the pack's surface for exactly this
// concern (no OIDC client appears anywhere else in the retrieved pack).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// OAuth2ClientCredentials wraps clientcredentials.Config, refetching and
// caching the token per oauth2's own expiry bookkeeping.
type OAuth2ClientCredentials struct {
	cfg *clientcredentials.Config
}

// NewOAuth2ClientCredentials builds a token source against tokenURL using
// the controller's registered client id/secret.
func NewOAuth2ClientCredentials(tokenURL, clientID, clientSecret string, scopes []string) *OAuth2ClientCredentials {
	return &OAuth2ClientCredentials{cfg: &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}}
}

func (o *OAuth2ClientCredentials) Token(ctx context.Context) (string, error) {
	tok, err := o.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("collab: oidc client-credentials fetch: %w", err)
	}
	return tok.AccessToken, nil
}

// RecordingJob is one unit of recorder dispatch work, matching §6's
// RabbitMQ frame `{ "room": "<id>", "breakout": "<id>|null" }`.
type RecordingJob struct {
	Room     string
	Breakout *string
}

// JobSource delivers recording jobs to cmd/recorder. A real AMQP-backed
// implementation is a straightforward addition behind this interface; no
// amqp client library appears anywhere in the retrieved example pack (every
// go.mod/go.sum in _examples was checked), so this package defines the
// interface plus a StaticJobSource rather than fabricate a dependency.
type JobSource interface {
	// Jobs returns a channel of jobs to process; it closes when ctx is
	// canceled or the source is exhausted.
	Jobs(ctx context.Context) (<-chan RecordingJob, error)
}

// StaticJobSource replays a fixed slice of jobs, one at a time, then
// closes. Used by cmd/recorder when run against a single room id from the
// CLI (no broker configured), and by tests.
type StaticJobSource struct {
	jobs []RecordingJob
}

func NewStaticJobSource(jobs ...RecordingJob) *StaticJobSource {
	return &StaticJobSource{jobs: jobs}
}

func (s *StaticJobSource) Jobs(ctx context.Context) (<-chan RecordingJob, error) {
	ch := make(chan RecordingJob, len(s.jobs))
	go func() {
		defer close(ch)
		for _, j := range s.jobs {
			select {
			case <-ctx.Done():
				return
			case ch <- j:
			}
		}
	}()
	return ch, nil
}

// NotificationEvent is the minimal payload the mailer is notified with;
// rendering, ICS generation, templating, and localization are out of
// scope per §1.
type NotificationEvent struct {
	Kind string
	Room string
}

// Mailer sends event notifications (SMTP + ICS in the full system);
// explicitly out of scope here (§1) beyond this interface.
type Mailer interface {
	Notify(ctx context.Context, event NotificationEvent) error
}

// DiscardMailer is the only implementation this repo ships: it drops every
// notification. Real rendering/localization/SMTP delivery lives in the
// mailer service this repo does not specify.
type DiscardMailer struct{}

func (DiscardMailer) Notify(ctx context.Context, event NotificationEvent) error { return nil }
