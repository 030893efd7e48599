// Package events publishes best-effort lifecycle notifications over NATS.
// Nothing in the control plane's own correctness depends on delivery: a
// down or unreachable NATS server degrades publishing to a no-op rather
// than failing the operation that triggered it.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kweaver-ai/sandboxctl/internal/logging"
)

const (
	SubjectSessionCreated   = "sandboxctl.session.created"
	SubjectSessionRunning   = "sandboxctl.session.running"
	SubjectSessionTerminated = "sandboxctl.session.terminated"
	SubjectExecutionResult  = "sandboxctl.execution.result"
)

// Config holds the NATS connection settings.
type Config struct {
	URL  string
	User string
	Password string
}

// Envelope wraps every published payload with a stable header so
// subscribers can dispatch on type without unmarshaling the body twice.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionLifecycleEvent is published on session create/running/terminate.
type SessionLifecycleEvent struct {
	SessionID  string `json:"session_id"`
	TemplateID string `json:"template_id"`
	Status     string `json:"status"`
}

// ExecutionResultEvent is published once an execution reaches a terminal
// status.
type ExecutionResultEvent struct {
	ExecutionID string `json:"execution_id"`
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
}

// Publisher publishes events to NATS on a best-effort basis. A nil
// underlying connection (NATS unreachable at startup) makes every publish
// call a silent no-op rather than blocking the caller; the missing
// connection is logged once, by NewPublisher.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS. If cfg.URL is empty, or the connection
// attempt fails, it returns a Publisher with no connection: every Publish
// call becomes a no-op, logged once.
func NewPublisher(cfg Config) *Publisher {
	log := logging.Events()
	if cfg.URL == "" {
		log.Info().Msg("no NATS_URL configured, event publishing disabled")
		return &Publisher{}
	}

	opts := []nats.Option{
		nats.Name("sandboxctl-control-plane"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to NATS, event publishing disabled")
		return &Publisher{}
	}
	log.Info().Str("url", cfg.URL).Msg("connected to NATS for event publishing")
	return &Publisher{conn: conn}
}

// Close releases the NATS connection, if any.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// publish marshals payload, wraps it in an Envelope, and fires it at
// subject. Errors are logged, never returned: callers on the critical
// path never block on event delivery.
func (p *Publisher) publish(subject string, payload interface{}) {
	if p.conn == nil {
		return
	}
	log := logging.Events()

	body, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to marshal event payload")
		return
	}
	envelope := Envelope{
		EventID:   uuid.NewString(),
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to marshal event envelope")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

// PublishSessionLifecycle publishes a session create/running/terminate
// transition.
func (p *Publisher) PublishSessionLifecycle(subject string, event SessionLifecycleEvent) {
	p.publish(subject, event)
}

// PublishExecutionResult publishes an execution's terminal result.
func (p *Publisher) PublishExecutionResult(event ExecutionResultEvent) {
	p.publish(SubjectExecutionResult, event)
}
