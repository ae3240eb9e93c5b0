package realtime

import (
	"testing"
	"time"

	v1 "localchat/shared/contracts/realtime/v1"
)

func TestClient_DeliverIsNonBlocking(t *testing.T) {
	t.Parallel()

	c := NewClient("c1", 1)
	env := v1.MustEncode(v1.TypePong, v1.NewPong("", time.Now()))

	if !c.Deliver(env) {
		t.Fatalf("first deliver should queue")
	}
	if c.Deliver(env) {
		t.Fatalf("full queue must drop instead of blocking")
	}

	<-c.Send
	c.Close()
	c.Close()
	if c.Deliver(env) {
		t.Fatalf("closed client must drop")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done should be closed")
	}
}

func TestClient_NilIsSafe(t *testing.T) {
	t.Parallel()

	var c *Client
	c.Close()
	if c.Deliver(v1.Envelope{}) {
		t.Fatalf("nil client cannot deliver")
	}
	<-c.Done()
}
