// Package demux implements the demultiplexing layer: it owns the tunnel
// read loop, the outbound transmit channel and its writer goroutine, the
// four-tuple table mapping inbound segments to a TCB, and the periodic
// timer tick that drives retransmission and TIME_WAIT expiry.
package demux

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ctrlcdev/tunstack"
	"github.com/ctrlcdev/tunstack/internal"
	"github.com/ctrlcdev/tunstack/metrics"
	"github.com/ctrlcdev/tunstack/tcp"
)

// maxDatagramSize bounds one tunnel read; this stack targets standard
// Ethernet-class MTUs, never path-MTU-discovered.
const maxDatagramSize = 65536

const (
	ephemeralPortLow  = 10000
	ephemeralPortHigh = 65535
	tickTimeoutMs     = 10
)

// Tunnel is the bidirectional datagram endpoint the demultiplexer reads
// from and writes to: one raw IPv4 datagram per Read/Write, no framing.
type Tunnel interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Poll(timeoutMs int) (bool, error)
}

// Quad is the four-tuple key of the demultiplexer's connection table:
// local address:port paired with remote address:port, local side first.
type Quad struct {
	LocalIP, RemoteIP     [4]byte
	LocalPort, RemotePort uint16
}

func (q Quad) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d<-%d.%d.%d.%d:%d",
		q.LocalIP[0], q.LocalIP[1], q.LocalIP[2], q.LocalIP[3], q.LocalPort,
		q.RemoteIP[0], q.RemoteIP[1], q.RemoteIP[2], q.RemoteIP[3], q.RemotePort)
}

// Demux owns the tunnel, the outbound transmit channel, and the
// four-tuple table. Exactly one Run call should be active on a Demux at a
// time; Connect may be called concurrently with Run.
type Demux struct {
	tun     Tunnel
	localIP [4]byte
	out     chan []byte
	rng     tcp.RandSource
	clk     tcp.Clock
	log     *slog.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	table map[Quad]*tcp.TCB
}

// New builds a Demux bound to tun and localIP. mcol may be nil.
func New(tun Tunnel, localIP [4]byte, rng tcp.RandSource, clk tcp.Clock, log *slog.Logger, mcol *metrics.Collector) *Demux {
	return &Demux{
		tun:     tun,
		localIP: localIP,
		out:     make(chan []byte, 64),
		rng:     rng,
		clk:     clk,
		log:     log,
		metrics: mcol,
		table:   make(map[Quad]*tcp.TCB),
	}
}

// Run drives the main loop: poll the tunnel with a 10ms timeout; on
// timeout, tick every registered TCB; otherwise read and dispatch one
// datagram. Run blocks until the tunnel reports a read or poll error.
func (d *Demux) Run() error {
	go d.writeLoop()
	var buf []byte
	internal.SliceReuse(&buf, maxDatagramSize)
	buf = buf[:cap(buf)]
	for {
		ready, err := d.tun.Poll(tickTimeoutMs)
		if err != nil {
			return fmt.Errorf("demux: poll: %w", err)
		}
		if !ready {
			d.tickAll()
			continue
		}
		n, err := d.tun.Read(buf)
		if err != nil {
			return fmt.Errorf("demux: read: %w", err)
		}
		d.dispatch(buf[:n])
	}
}

func (d *Demux) writeLoop() {
	for datagram := range d.out {
		if _, err := d.tun.Write(datagram); err != nil {
			d.log.Error("tunnel write failed", "err", err)
		}
	}
}

func (d *Demux) tickAll() {
	now := d.clk.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	type dead struct {
		quad Quad
		tcb  *tcp.TCB
	}
	var closed []dead
	for q, tcb := range d.table {
		if tcb.Tick(now) {
			closed = append(closed, dead{quad: q, tcb: tcb})
		}
	}
	for _, c := range closed {
		d.log.Debug("removing closed tcb", "quad", c.quad.String())
		delete(d.table, c.quad)
		if d.metrics != nil {
			d.metrics.Remove(c.tcb.Snapshot().ID)
		}
	}
}

func (d *Demux) dispatch(buf []byte) {
	src, dst, seg, srcPort, dstPort, ok := tcp.Decode(buf)
	if !ok {
		d.log.Debug("dropped non-tcp or malformed ipv4 datagram")
		return
	}
	quad := Quad{LocalIP: dst, RemoteIP: src, LocalPort: dstPort, RemotePort: srcPort}
	d.mu.Lock()
	tcb, found := d.table[quad]
	d.mu.Unlock()
	if !found {
		d.log.Debug("dropped segment for unknown quad", "quad", quad.String())
		return
	}
	if err := tcb.OnPacket(seg); err != nil {
		d.log.Error("on_packet failed", "quad", quad.String(), "err", err)
	}
}

// Connect performs active open against remoteIP:remotePort: allocates an
// ephemeral local port, registers a new TCB under the table lock, issues
// the SYN, and blocks until the connection reaches ESTABLISHED or fails.
func (d *Demux) Connect(remoteIP [4]byte, remotePort uint16) (*tcp.TCB, error) {
	if internal.IsZeroed(remoteIP) || remotePort == 0 {
		return nil, tunstack.ErrZeroDestination
	}
	d.mu.Lock()
	port := d.allocPortLocked()
	tcb := tcp.NewTCB(d.localIP, remoteIP, port, remotePort, d.out, d.rng, d.clk, d.log)
	quad := Quad{LocalIP: d.localIP, RemoteIP: remoteIP, LocalPort: port, RemotePort: remotePort}
	d.table[quad] = tcb
	d.mu.Unlock()

	if d.metrics != nil {
		snap := tcb.Snapshot()
		d.metrics.Add(snap.ID, tcb, []string{quad.String()})
	}

	tcb.Lock()
	defer tcb.Unlock()
	if err := tcb.ConnectLocked(); err != nil {
		return nil, err
	}
	for {
		switch tcb.StateLocked() {
		case tcp.StateEstablished:
			return tcb, nil
		case tcp.StateClosed:
			return nil, tcp.ErrNotConnected
		}
		tcb.Wait()
	}
}

// allocPortLocked picks a random ephemeral port not already bound to a
// local quad in the table. Caller must hold d.mu.
func (d *Demux) allocPortLocked() uint16 {
	span := uint32(ephemeralPortHigh - ephemeralPortLow + 1)
	port := uint16(ephemeralPortLow + d.rng.Uint32()%span)
	for {
		collision := false
		for q := range d.table {
			if q.LocalPort == port {
				collision = true
				break
			}
		}
		if !collision {
			return port
		}
		if port == ephemeralPortHigh {
			port = ephemeralPortLow
		} else {
			port++
		}
	}
}
