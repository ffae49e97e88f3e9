package tcp

import (
	"log/slog"

	"github.com/ctrlcdev/tunstack/internal"
)

func (t *TCB) logenabled(lvl slog.Level) bool {
	return internal.LogEnabled(t.log, lvl)
}

func (t *TCB) trace(msg string, attrs ...slog.Attr) {
	if !t.logenabled(internal.LevelTrace) {
		return
	}
	internal.LogAttrs(t.log, internal.LevelTrace, msg, t.withID(attrs)...)
}

func (t *TCB) debug(msg string, attrs ...slog.Attr) {
	if !t.logenabled(slog.LevelDebug) {
		return
	}
	internal.LogAttrs(t.log, slog.LevelDebug, msg, t.withID(attrs)...)
}

func (t *TCB) logerr(msg string, err error) {
	if !t.logenabled(slog.LevelError) {
		return
	}
	internal.LogAttrs(t.log, slog.LevelError, msg, t.withID([]slog.Attr{slog.String("err", err.Error())})...)
}

func (t *TCB) withID(attrs []slog.Attr) []slog.Attr {
	return append([]slog.Attr{
		slog.String("conn", t.id.String()),
		slog.String("state", t.state.String()),
		internal.SlogAddr4("dst", &t.destIP),
	}, attrs...)
}

// traceSeg logs a single inbound or outbound segment at trace level.
func (t *TCB) traceSeg(dir string, seg Segment) {
	if !t.logenabled(internal.LevelTrace) {
		return
	}
	t.trace(dir,
		slog.Uint64("seq", uint64(seg.SEQ)),
		slog.Uint64("ack", uint64(seg.ACK)),
		slog.String("flags", seg.Flags.String()),
		slog.Int("len", len(seg.Payload)),
	)
}

// traceSendWindow renders the occupancy of the send ring as a text zone map
// (unacked bytes vs. free capacity) for trace-level diagnostics. Called
// after a retransmission, the case an operator most wants to see occupancy
// for.
func (t *TCB) traceSendWindow() {
	if !t.logenabled(internal.LevelTrace) || t.sendWin == nil {
		return
	}
	w := t.sendWin.Len()
	begin, end := mod(t.sndUNA, w), mod(t.sndNXT, w)
	zones := []internal.BufferZone{{Name: "unacked", Start: begin, End: end}}
	out, err := t.zonePrinter.AppendPrintZones(nil, int(w), zones...)
	if err != nil {
		return
	}
	t.trace("send window", slog.String("zones", string(out)))
}
