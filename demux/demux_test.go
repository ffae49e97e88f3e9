package demux

import (
	"testing"
	"time"

	"github.com/ctrlcdev/tunstack"
	"github.com/ctrlcdev/tunstack/tcp"
)

type fixedRand struct{ seq []uint32 }

func (r *fixedRand) Uint32() uint32 {
	v := r.seq[0]
	r.seq = append(r.seq[1:], v)
	return v
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestQuadString(t *testing.T) {
	q := Quad{
		LocalIP: [4]byte{10, 0, 0, 2}, LocalPort: 55000,
		RemoteIP: [4]byte{10, 0, 0, 1}, RemotePort: 4242,
	}
	want := "10.0.0.2:55000<-10.0.0.1:4242"
	if got := q.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestAllocPortLockedAvoidsCollision(t *testing.T) {
	d := New(nil, [4]byte{10, 0, 0, 2}, &fixedRand{seq: []uint32{0}}, fixedClock{}, nil, nil)
	taken := uint16(ephemeralPortLow)
	d.table[Quad{LocalPort: taken}] = tcp.NewTCB([4]byte{}, [4]byte{}, taken, 0, nil, nil, nil, nil)

	port := d.allocPortLocked()
	if port == taken {
		t.Fatalf("allocPortLocked returned an already-bound port %d", port)
	}
	if port < ephemeralPortLow || port > ephemeralPortHigh {
		t.Fatalf("allocPortLocked returned out-of-range port %d", port)
	}
}

func TestConnectRejectsZeroDestination(t *testing.T) {
	d := New(nil, [4]byte{10, 0, 0, 2}, &fixedRand{seq: []uint32{1}}, fixedClock{}, nil, nil)
	_, err := d.Connect([4]byte{}, 4242)
	if err != tunstack.ErrZeroDestination {
		t.Fatalf("err = %v, want ErrZeroDestination", err)
	}
	_, err = d.Connect([4]byte{10, 0, 0, 1}, 0)
	if err != tunstack.ErrZeroDestination {
		t.Fatalf("err = %v, want ErrZeroDestination", err)
	}
}
