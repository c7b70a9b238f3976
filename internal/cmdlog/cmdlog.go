// Package cmdlog implements the command log and completion trampoline
// (spec §4.2): a per-queue ring of submission/completion records that
// timestamps every command, computes latency, and drives read-data
// verification before the user callback observes a completion.
package cmdlog

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nvmeharness/nvmeharness/internal/iobuf"
	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/oracle"
)

// RingDepth is the fixed per-queue ring size (spec §3 "Command log table").
const RingDepth = 2048

// MaxQueues is the maximum number of queues, including the admin queue at
// qid 0 (spec §3 "Command log table").
const MaxQueues = 32

// UserCB is invoked once a log entry's completion has been stamped,
// latency-corrected, and (for reads) verified. arg is whatever opaque value
// was registered at RecordSubmit time.
type UserCB func(cpl *nvme.Completion, arg any)

// VerifyCtx carries the information needed to verify a Read completion's
// data against the oracle (spec §3 "Command log entry" - "optional
// verification context").
type VerifyCtx struct {
	Buf         []byte
	StartingLBA uint64
	BlockCount  int
	Table       *oracle.Table
}

// entry is one cacheline-padded command log record. The padding keeps
// concurrently-touched entries from sharing a cacheline, matching the
// corpus's cacheline-alignment concerns around hot-path descriptor arrays
// (internal/queue/runner.go's descriptor slots).
type entry struct {
	submitTime time.Time
	cmd        nvme.Command
	cplTime    time.Time
	cpl        nvme.Completion
	verify     *VerifyCtx
	isRead     bool
	cb         UserCB
	arg        any

	_ [24]byte // pad to a 192-byte stride, three 64-byte cachelines
}

// Entry is a stable reference to a claimed ring slot, handed back by
// RecordSubmit for use as the completion trampoline's opaque argument
// (spec §9 "Callback trampoline": "a stable address-in-ring pattern").
// It is a plain value (ring pointer + index), so the ring record itself is
// never heap-allocated per command; internal/facade captures it in the
// per-command completion closure it hands to the driver, and that closure
// is allocated on every submission.
type Entry struct {
	ring *Ring
	idx  uint32
}

// Ring is one queue's fixed-size command log.
type Ring struct {
	qid     int
	entries []entry
	tail    atomic.Uint32
}

// Log owns every queue's ring, up to MaxQueues.
type Log struct {
	rings [MaxQueues]*Ring
}

// NewLog creates an empty command log with no rings open.
func NewLog() *Log {
	return &Log{}
}

// Open allocates a zero-initialized ring for qid (spec §4.2 "open").
func (l *Log) Open(qid int) (*Ring, error) {
	if qid < 0 || qid >= MaxQueues {
		return nil, fmt.Errorf("cmdlog: qid %d out of range [0,%d)", qid, MaxQueues)
	}
	if l.rings[qid] != nil {
		return nil, fmt.Errorf("cmdlog: qid %d already open", qid)
	}
	r := &Ring{qid: qid, entries: make([]entry, RingDepth)}
	l.rings[qid] = r
	return r, nil
}

// Close releases the ring for qid (spec §4.2 "close").
func (l *Log) Close(qid int) error {
	if qid < 0 || qid >= MaxQueues || l.rings[qid] == nil {
		return fmt.Errorf("cmdlog: qid %d not open", qid)
	}
	l.rings[qid] = nil
	return nil
}

// Ring returns the open ring for qid, or nil.
func (l *Log) Ring(qid int) *Ring {
	if qid < 0 || qid >= MaxQueues {
		return nil
	}
	return l.rings[qid]
}

// RecordSubmit claims the slot at the current tail, copies in the command
// image, stamps the submission time, stores the verification context and
// callback, and advances the tail with wraparound (spec §4.2
// "record_submit"). now is threaded in by the caller so tests can control
// timestamps deterministically.
func (r *Ring) RecordSubmit(now time.Time, cmd *nvme.Command, verify *VerifyCtx, cb UserCB, arg any) Entry {
	idx := r.tail.Add(1) - 1
	slot := idx % RingDepth

	e := &r.entries[slot]
	e.submitTime = now
	e.cmd = *cmd
	e.cplTime = time.Time{}
	e.cpl = nvme.Completion{}
	e.verify = verify
	e.isRead = cmd.Opcode == nvme.OpcodeRead
	e.cb = cb
	e.arg = arg

	return Entry{ring: r, idx: slot}
}

// OnComplete stamps the completion time, copies in the completion image,
// computes microsecond latency, overwrites the stored completion's CDW2
// with that latency, runs read verification when applicable, and invokes
// the user callback with the (possibly status-mutated) completion
// (spec §4.2 "on_complete").
func OnComplete(ref Entry, now time.Time, cpl *nvme.Completion) {
	e := &ref.ring.entries[ref.idx]
	e.cplTime = now
	e.cpl = *cpl

	latencyUS := latencyMicros(e.submitTime, now)
	e.cpl.CDW2 = latencyUS

	if e.isRead && e.verify != nil && e.verify.Table != nil {
		res, _, err := iobuf.VerifyReadBlocks(e.verify.Table, e.verify.Buf, e.verify.StartingLBA, e.verify.BlockCount)
		if err == nil && res.Failed() {
			e.cpl.SetStatus(nvme.SCTMediaAndDataIntegrityError, nvme.SCUnrecoveredReadError)
		}
	}

	if e.cb != nil {
		e.cb(&e.cpl, e.arg)
	}
}

// latencyMicros implements spec §4.2's "Latency encoding":
// (cpl.sec-cmd.sec)*1e6 + (cpl.usec-cmd.usec).
func latencyMicros(submit, complete time.Time) uint32 {
	d := complete.Sub(submit)
	if d < 0 {
		d = 0
	}
	return uint32(d.Microseconds())
}

// DumpEntry is one decoded record returned by Dump: the raw command and
// completion images plus the fields a human-facing dump needs without
// re-deriving them (SPEC_FULL §3 "Dump/decode helper": "opcode name,
// CDW10-15, latency").
type DumpEntry struct {
	SubmitTime time.Time
	CplTime    time.Time
	Cmd        nvme.Command
	Cpl        nvme.Completion

	OpcodeName string
	CDW10      uint32
	CDW11      uint32
	CDW12      uint32
	CDW13      uint32
	CDW14      uint32
	CDW15      uint32
	LatencyUS  uint32
}

// Dump emits up to count entries (clamped to RingDepth) in raw ring order,
// not logical submission order, matching the debug operation in spec
// §4.2 "Dump" and the original driver's log dump.
func (r *Ring) Dump(count int) []DumpEntry {
	if count > RingDepth {
		count = RingDepth
	}
	out := make([]DumpEntry, 0, count)
	for i := 0; i < count; i++ {
		e := &r.entries[i]
		out = append(out, DumpEntry{
			SubmitTime: e.submitTime,
			CplTime:    e.cplTime,
			Cmd:        e.cmd,
			Cpl:        e.cpl,

			OpcodeName: nvme.OpcodeName(e.cmd.Opcode),
			CDW10:      e.cmd.CDW10,
			CDW11:      e.cmd.CDW11,
			CDW12:      e.cmd.CDW12,
			CDW13:      e.cmd.CDW13,
			CDW14:      e.cmd.CDW14,
			CDW15:      e.cmd.CDW15,
			LatencyUS:  e.cpl.CDW2,
		})
	}
	return out
}
