package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"github.com/Stanislav-Kankin/idle-company-game/internal/config"
	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

const (
	natsProbeName = "nats"

	// subjectPrefix is prepended to the event type, e.g. the subject for a
	// purchase is "game.upgrade.purchased".
	subjectPrefix = "game."
)

// streamSpec describes a JetStream stream to provision.
type streamSpec struct {
	name      string
	subjects  []string
	retention nats.RetentionPolicy
	maxAge    time.Duration
}

// eventsStream is the stream all game events land on. Limits retention:
// consumers replay recent history, they do not ack it away.
var eventsStream = streamSpec{
	name:      "GAME_EVENTS",
	subjects:  []string{"game.>"},
	retention: nats.LimitsPolicy,
	maxAge:    168 * time.Hour,
}

// jsContext is the subset of nats.JetStreamContext the publisher uses.
// Defining an interface here allows test doubles to be injected without a
// live NATS server.
type jsContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes game events to JetStream and provisions the
// stream they land on.
type NATSPublisher struct {
	js        jsContext
	closeConn func()
	cb        *gobreaker.CircuitBreaker
}

// NewNATSPublisher connects to NATS and obtains a JetStream context. The
// event stream is a required dependency; a connection failure here is fatal
// to startup. The client reconnects on its own after transient outages.
func NewNATSPublisher(cfg config.NATSConfig, cb *gobreaker.CircuitBreaker) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream context: %w", err)
	}

	return &NATSPublisher{js: js, closeConn: func() { nc.Close() }, cb: cb}, nil
}

// Publish sends ev to "game.<type>" as JSON.
func (p *NATSPublisher) Publish(ctx context.Context, ev game.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := p.js.Publish(subjectPrefix+ev.Type, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Type, err)
	}
	return nil
}

// ProvisionStream creates or updates the GAME_EVENTS stream. It is
// idempotent: an existing stream is updated rather than errored. The
// operation is wrapped in the circuit breaker.
func (p *NATSPublisher) ProvisionStream(_ context.Context) error {
	_, err := p.cb.Execute(func() (any, error) {
		return nil, provisionStream(p.js, eventsStream)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("circuit open: %w", err)
		}
		return err
	}
	return nil
}

// Probe verifies NATS connectivity and returns a ProbeResult. A missing
// stream is not treated as a failure; the health check only cares that
// NATS is reachable.
func (p *NATSPublisher) Probe(_ context.Context) game.ProbeResult {
	start := time.Now()

	_, err := p.cb.Execute(func() (any, error) {
		// A missing stream means NATS is up but provisioning has not run
		// yet, which is fine for a health check.
		_, infoErr := p.js.StreamInfo(eventsStream.name)
		if infoErr != nil && !errors.Is(infoErr, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info: %w", infoErr)
		}
		return nil, nil
	})

	return probeResult(natsProbeName, start, err)
}

// Close drains the underlying connection.
func (p *NATSPublisher) Close() {
	if p.closeConn != nil {
		p.closeConn()
	}
}

// provisionStream creates the stream if it does not exist, or updates it if
// it does. nats.ErrStreamNotFound signals "create"; any other error is
// returned.
func provisionStream(js jsContext, spec streamSpec) error {
	cfg := &nats.StreamConfig{
		Name:      spec.name,
		Subjects:  spec.subjects,
		Retention: spec.retention,
		MaxAge:    spec.maxAge,
	}

	_, err := js.StreamInfo(spec.name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, addErr := js.AddStream(cfg); addErr != nil {
			return fmt.Errorf("creating stream %s: %w", spec.name, addErr)
		}
	case err != nil:
		return fmt.Errorf("querying stream %s: %w", spec.name, err)
	default:
		if _, updErr := js.UpdateStream(cfg); updErr != nil {
			return fmt.Errorf("updating stream %s: %w", spec.name, updErr)
		}
	}
	return nil
}
