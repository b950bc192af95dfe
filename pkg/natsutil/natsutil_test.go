package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type event struct {
	Session string `json:"session"`
	Phase   string `json:"phase"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)
	if carrier.Get("missing") != "" || carrier.Keys() != nil {
		t.Fatal("empty carrier should report nothing")
	}
	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestSubject(t *testing.T) {
	b := NewBus(nil, "pulse.session.")
	if got := b.Subject("abc-1", "phase.done"); got != "pulse.session.abc-1.phase_done" {
		t.Fatalf("subject = %q", got)
	}
	if got := b.Subject(">"); got != "pulse.session.>" {
		t.Fatalf("wildcard subject = %q", got)
	}
}

func TestEmitWithoutConnectionIsNoop(t *testing.T) {
	var b *Bus
	if err := Emit(context.Background(), b, event{}, "x"); err != nil {
		t.Fatal(err)
	}
	if err := Emit(context.Background(), NewBus(nil, "p"), event{}, "x"); err != nil {
		t.Fatal(err)
	}
}

func TestEmitSubscribeRoundTrip(t *testing.T) {
	nc := startTestNATS(t)
	bus := NewBus(nc, "pulse.session")

	type got struct {
		subject string
		ev      event
	}
	ch := make(chan got, 1)
	sub, err := Subscribe(nc, bus.Subject("*", ">"), func(_ context.Context, subject string, ev event) {
		ch <- got{subject, ev}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Emit(context.Background(), bus, event{Session: "s1", Phase: "social"}, "s1", "phase", "social"); err != nil {
		t.Fatal(err)
	}

	select {
	case g := <-ch:
		if g.subject != "pulse.session.s1.phase.social" {
			t.Fatalf("subject = %q", g.subject)
		}
		if g.ev.Phase != "social" {
			t.Fatalf("event = %+v", g.ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)
	called := make(chan struct{}, 1)
	sub, err := Subscribe(nc, "bad.json", func(context.Context, string, event) { called <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("bad.json", []byte("{invalid")); err != nil {
		t.Fatal(err)
	}
	_ = nc.Flush()

	select {
	case <-called:
		t.Fatal("handler should not run for malformed payloads")
	case <-time.After(100 * time.Millisecond):
	}
}
