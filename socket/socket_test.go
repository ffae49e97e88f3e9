package socket

import (
	"testing"
	"time"

	"github.com/ctrlcdev/tunstack/tcp"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type fakeRand struct{ v uint32 }

func (r fakeRand) Uint32() uint32 { return r.v }

func establishedTCB(t *testing.T, out chan []byte) *tcp.TCB {
	t.Helper()
	clk := fakeClock{t: time.Unix(1, 0)}
	tcb := tcp.NewTCB([4]byte{10, 0, 0, 2}, [4]byte{10, 0, 0, 1}, 55000, 4242, out, fakeRand{v: 100}, clk, nil)
	tcb.Lock()
	if err := tcb.ConnectLocked(); err != nil {
		t.Fatal(err)
	}
	tcb.Unlock()
	<-out // SYN

	if err := tcb.OnPacket(tcp.Segment{SEQ: 1000, ACK: 101, Flags: tcp.FlagSYN | tcp.FlagACK, WND: 8192}); err != nil {
		t.Fatal(err)
	}
	<-out // ACK
	return tcb
}

func TestHandleWriteThenRead(t *testing.T) {
	out := make(chan []byte, 8)
	tcb := establishedTCB(t, out)
	h := New(tcb)

	n, err := h.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Fatalf("Write returned %d, want 5", n)
	}
	<-out // the data segment this stack just sent

	// Simulate the peer echoing the bytes back with its own sequence space.
	if err := tcb.OnPacket(tcp.Segment{SEQ: 1001, ACK: 106, Flags: tcp.FlagACK | tcp.FlagPSH, Payload: []byte("hello")}); err != nil {
		t.Fatal(err)
	}
	<-out // the ACK this stack sends back

	buf := make([]byte, 16)
	n, err = h.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestHandleStateAndClose(t *testing.T) {
	out := make(chan []byte, 8)
	tcb := establishedTCB(t, out)
	h := New(tcb)

	if got := h.State(); got != tcp.StateEstablished {
		t.Fatalf("State() = %v, want ESTABLISHED", got)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := h.State(); got != tcp.StateFinWait1 {
		t.Fatalf("State() after Close = %v, want FIN_WAIT_1", got)
	}
}
