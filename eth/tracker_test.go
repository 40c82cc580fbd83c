package eth

import (
	"errors"
	"testing"
	"time"

	"github.com/ethsync/ethsync/p2p"
)

func TestRequestTracker_Deliver(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	defer tr.Close()

	id, resp := tr.Track(p2p.GetBlockHeadersMsg)
	if id == 0 {
		t.Fatal("Track assigned request ID 0")
	}
	if err := tr.Deliver(id, p2p.BlockHeadersMsg, "payload"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	value, ok := <-resp
	if !ok || value != "payload" {
		t.Errorf("response = (%v, %v), want payload", value, ok)
	}
	if _, ok := <-resp; ok {
		t.Error("response channel not closed after delivery")
	}
}

func TestRequestTracker_DeliverUnknownID(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	defer tr.Close()

	if err := tr.Deliver(42, p2p.BlockHeadersMsg, nil); !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("Deliver unknown id = %v, want ErrUnexpectedResponse", err)
	}
}

func TestRequestTracker_DeliverWrongCode(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	defer tr.Close()

	id, resp := tr.Track(p2p.GetBlockHeadersMsg)
	if err := tr.Deliver(id, p2p.BlockBodiesMsg, nil); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("Deliver wrong code = %v, want ErrUnexpectedResponse", err)
	}

	// The request survives a mismatched response and can still complete.
	if err := tr.Deliver(id, p2p.BlockHeadersMsg, "late"); err != nil {
		t.Fatalf("Deliver after mismatch: %v", err)
	}
	if value := <-resp; value != "late" {
		t.Errorf("response = %v, want late", value)
	}
}

func TestRequestTracker_Cancel(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	defer tr.Close()

	id, resp := tr.Track(p2p.GetBlockHeadersMsg)
	tr.Cancel(id)

	if _, ok := <-resp; ok {
		t.Error("response channel delivered a value after Cancel")
	}
	if err := tr.Deliver(id, p2p.BlockHeadersMsg, nil); !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("Deliver after Cancel = %v, want ErrUnexpectedResponse", err)
	}
}

func TestRequestTracker_Expiry(t *testing.T) {
	tr := NewRequestTracker(20 * time.Millisecond)
	defer tr.Close()

	_, resp := tr.Track(p2p.GetBlockHeadersMsg)
	select {
	case _, ok := <-resp:
		if ok {
			t.Error("expired request delivered a value")
		}
	case <-time.After(time.Second):
		t.Fatal("request did not expire")
	}
}

func TestRequestTracker_Close(t *testing.T) {
	tr := NewRequestTracker(time.Second)

	_, resp := tr.Track(p2p.GetBlockHeadersMsg)
	tr.Close()
	tr.Close()

	if _, ok := <-resp; ok {
		t.Error("in-flight request delivered a value after Close")
	}

	// Requests tracked after shutdown fail immediately.
	_, late := tr.Track(p2p.GetBlockHeadersMsg)
	if _, ok := <-late; ok {
		t.Error("request tracked after Close delivered a value")
	}
}
