// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation, plus a subject-prefixed event bus.
package natsutil

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// The handler also receives the concrete subject, which matters for
// wildcard subscriptions. Malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(ctx context.Context, subject string, v T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, msg.Subject, v)
	})
}

// Bus publishes events under a fixed subject prefix. A nil *Bus or one
// without a connection drops events, so callers need no nil checks.
type Bus struct {
	nc     *nats.Conn
	prefix string
}

// NewBus returns a Bus publishing to "<prefix>.<suffix>".
func NewBus(nc *nats.Conn, prefix string) *Bus {
	return &Bus{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject joins the bus prefix with the given tokens.
func (b *Bus) Subject(tokens ...string) string {
	parts := make([]string, 0, len(tokens)+1)
	if b != nil && b.prefix != "" {
		parts = append(parts, b.prefix)
	}
	for _, t := range tokens {
		parts = append(parts, sanitizeToken(t))
	}
	return strings.Join(parts, ".")
}

// Emit publishes v under the prefixed subject built from tokens.
func Emit[T any](ctx context.Context, b *Bus, v T, tokens ...string) error {
	if b == nil || b.nc == nil {
		return nil
	}
	return Publish(ctx, b.nc, b.Subject(tokens...), v)
}

// sanitizeToken keeps subject tokens free of separators and wildcards.
func sanitizeToken(s string) string {
	if s == "*" || s == ">" {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
