package piper

import (
	"os"
	"testing"
	"time"

	"github.com/loykin/preforge/internal/frame"
)

// newLocalPair builds two Pipers over a pair of os.Pipe()s in this
// process, without forking — enough to exercise Send/Receive/Readable
// framing logic without spawning a real child. Fork itself is not run by
// these tests: a re-exec'd go test binary never calls MaybeRunChild.
func newLocalPair(t *testing.T, timeout time.Duration) (a, b *Piper) {
	t.Helper()
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	r2, w2, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	a = Wrap(ModeRW, r1, w2, timeout)
	b = Wrap(ModeRW, r2, w1, timeout)
	b.isChild = true
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
	return a, b
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"R": ModeR, "w": ModeW, "Rw": ModeRW}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

type payload struct{ N int }

func TestSendReceiveValueRoundTrip(t *testing.T) {
	a, b := newLocalPair(t, time.Second)

	if _, err := a.Send(payload{N: 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Kind != ReceiveValue {
		t.Fatalf("Kind = %v, want ReceiveValue", got.Kind)
	}
	var p payload
	if err := got.Raw.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.N != 7 {
		t.Fatalf("N = %d, want 7", p.N)
	}
}

func TestSendReceiveControlTags(t *testing.T) {
	a, b := newLocalPair(t, time.Second)

	if _, err := a.Send(frame.TagHeartbeat); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Kind != ReceiveControl || got.Tag != frame.TagHeartbeat {
		t.Fatalf("got %+v, want ReceiveControl/TagHeartbeat", got)
	}
}

func TestReceiveTimesOutWithoutData(t *testing.T) {
	_, b := newLocalPair(t, 50*time.Millisecond)

	start := time.Now()
	got, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Kind != ReceiveTimeout {
		t.Fatalf("Kind = %v, want ReceiveTimeout", got.Kind)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Receive took too long: %v", elapsed)
	}
}

func TestSendAfterCloseReturnsSentinel(t *testing.T) {
	a, b := newLocalPair(t, time.Second)
	_ = a.Close()

	n, err := a.Send(payload{N: 1})
	if err != nil {
		t.Fatalf("Send after close: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
	_ = b
}

func TestCloseIsIdempotent(t *testing.T) {
	a, _ := newLocalPair(t, time.Second)
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestReadableReflectsPendingData(t *testing.T) {
	a, b := newLocalPair(t, 100*time.Millisecond)

	if b.Readable() {
		t.Fatal("expected no data pending before Send")
	}
	if _, err := a.Send(payload{N: 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Give the kernel pipe a moment to make the byte visible.
	time.Sleep(10 * time.Millisecond)
	if !b.Readable() {
		t.Fatal("expected data to be readable after Send")
	}
}

func TestPIDNilOnUnforkedPiper(t *testing.T) {
	a, _ := newLocalPair(t, time.Second)
	if _, ok := a.PID(); ok {
		t.Fatal("expected no PID on a Piper built outside Fork")
	}
}
