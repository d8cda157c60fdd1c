package hub

import (
	"bytes"
	"errors"
	"testing"
)

type fakeClient struct {
	name    string
	fail    bool
	written [][]byte
}

func (f *fakeClient) WriteFrame(p []byte) error {
	if f.fail {
		return errors.New("EPIPE")
	}
	f.written = append(f.written, append([]byte(nil), p...))
	return nil
}

// S5: three clients {A,B,C}; B's writes always fail. After one broadcast,
// exactly B is removed and A, C received the frame.
func TestBroadcastFailureIsolation(t *testing.T) {
	h := New()
	a := &fakeClient{name: "A"}
	b := &fakeClient{name: "B", fail: true}
	c := &fakeClient{name: "C"}

	h.Add(a)
	h.Add(b)
	h.Add(c)

	h.Broadcast([]byte("frame"))

	if h.Len() != 2 {
		t.Fatalf("expected 2 clients remaining, got %d", h.Len())
	}
	if len(a.written) != 1 || !bytes.Equal(a.written[0], []byte("frame")) {
		t.Fatalf("client A did not receive frame: %v", a.written)
	}
	if len(c.written) != 1 || !bytes.Equal(c.written[0], []byte("frame")) {
		t.Fatalf("client C did not receive frame: %v", c.written)
	}
	if len(b.written) != 0 {
		t.Fatalf("client B should not have recorded a write")
	}
}

func TestBroadcastNoClients(t *testing.T) {
	h := New()
	h.Broadcast([]byte("frame")) // must not panic
	if h.Len() != 0 {
		t.Fatal("expected empty hub")
	}
}

func TestAddRemove(t *testing.T) {
	h := New()
	a := &fakeClient{name: "A"}
	h.Add(a)
	if h.Len() != 1 {
		t.Fatal("expected 1 client after add")
	}
	h.Remove(a)
	if h.Len() != 0 {
		t.Fatal("expected 0 clients after remove")
	}
}

// Multiple broadcasts in sequence all arrive in order on a surviving client.
func TestBroadcastOrdering(t *testing.T) {
	h := New()
	a := &fakeClient{name: "A"}
	h.Add(a)

	for i := 0; i < 5; i++ {
		h.Broadcast([]byte{byte(i)})
	}

	if len(a.written) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(a.written))
	}
	for i, p := range a.written {
		if p[0] != byte(i) {
			t.Fatalf("frame %d out of order: %v", i, p)
		}
	}
}
