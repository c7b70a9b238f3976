// Package memdriver is an in-memory stand-in for the external NVMe driver
// stack the core depends on through internal/nvme.Driver (spec §6). It
// backs the namespace with a sharded-lock byte array grounded on the
// teacher's backend/mem.go, and completes every command synchronously: a
// submit call queues the completion, ProcessCompletions drains the queue
// and fires callbacks. Used by the core's own tests; never imported by the
// core packages themselves.
package memdriver

import (
	"fmt"
	"sync"

	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/zone"
)

// ShardSize is the size of each memory shard (64KB), matching the
// teacher's backend/mem.go rationale: good parallelism for small random
// I/O while keeping lock overhead reasonable.
const ShardSize = 64 * 1024

// Driver implements nvme.Driver entirely in process memory.
type Driver struct {
	mu      sync.Mutex
	data    []byte
	shards  []sync.RWMutex
	size    int64
	zones   *zone.Registry
	ctrlr   *ctrlrHandle
	qpairs  map[*qpairHandle]*queue
	nextQID int
}

// New creates a memdriver backing a namespace of numBlocks logical blocks.
func New(numBlocks uint64) *Driver {
	size := int64(numBlocks) * nvme.LogicalBlockSize
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Driver{
		data:   make([]byte, size),
		shards: make([]sync.RWMutex, numShards),
		size:   size,
		zones:  zone.NewRegistry(),
		qpairs: make(map[*qpairHandle]*queue),
	}
}

type ctrlrHandle struct{}

func (*ctrlrHandle) ctrlrHandle() {}

type qpairHandle struct{ id int }

func (*qpairHandle) qpairHandle() {}

// pending is a submitted-but-not-yet-processed command, completed
// synchronously at submit time and drained by ProcessCompletions.
type pending struct {
	cpl nvme.Completion
	cb  nvme.CompletionCB
}

type queue struct {
	mu      sync.Mutex
	pending []pending
}

func (d *Driver) Probe(tr nvme.TransportID) (nvme.CtrlrHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrlr == nil {
		d.ctrlr = &ctrlrHandle{}
	}
	return d.ctrlr, nil
}

func (d *Driver) AllocIOQpair(ctrlr nvme.CtrlrHandle, opts nvme.QpairOpts) (nvme.QpairHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextQID++
	qp := &qpairHandle{id: d.nextQID}
	d.qpairs[qp] = &queue{}
	return qp, nil
}

func (d *Driver) FreeIOQpair(qpair nvme.QpairHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	qp, ok := qpair.(*qpairHandle)
	if !ok {
		return fmt.Errorf("memdriver: invalid qpair handle")
	}
	delete(d.qpairs, qp)
	return nil
}

func (d *Driver) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(d.shards) {
		end = len(d.shards) - 1
	}
	return start, end
}

func (d *Driver) readAt(p []byte, off int64) {
	start, end := d.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		d.shards[i].RLock()
	}
	copy(p, d.data[off:off+int64(len(p))])
	for i := start; i <= end; i++ {
		d.shards[i].RUnlock()
	}
}

func (d *Driver) writeAt(p []byte, off int64) {
	start, end := d.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		d.shards[i].Lock()
	}
	copy(d.data[off:off+int64(len(p))], p)
	for i := start; i <= end; i++ {
		d.shards[i].Unlock()
	}
}

// SubmitAdminRaw completes every admin command immediately with a zeroed
// completion, invoking cb before it returns; buf is ignored, so no data
// moves for admin commands.
func (d *Driver) SubmitAdminRaw(ctrlr nvme.CtrlrHandle, cmd *nvme.Command, buf []byte, cb nvme.CompletionCB) error {
	var cpl nvme.Completion
	if cb != nil {
		cb(&cpl)
	}
	return nil
}

// SubmitIORaw moves data against the backing store immediately (reads
// fill buf, writes drain it) and queues a zeroed completion for the next
// ProcessCompletions call, standing in for a real controller's DMA engine
// and completion-queue posting.
func (d *Driver) SubmitIORaw(qpair nvme.QpairHandle, cmd *nvme.Command, buf []byte, cb nvme.CompletionCB) error {
	qp, ok := qpair.(*qpairHandle)
	if !ok {
		return fmt.Errorf("memdriver: invalid qpair handle")
	}
	d.mu.Lock()
	q := d.qpairs[qp]
	d.mu.Unlock()
	if q == nil {
		return fmt.Errorf("memdriver: qpair not allocated")
	}

	lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
	off := int64(lba) * nvme.LogicalBlockSize

	switch cmd.Opcode {
	case nvme.OpcodeRead:
		d.readAt(buf, off)
	case nvme.OpcodeWrite:
		d.writeAt(buf, off)
	}

	var cpl nvme.Completion
	q.mu.Lock()
	q.pending = append(q.pending, pending{cpl: cpl, cb: cb})
	q.mu.Unlock()
	return nil
}

func (d *Driver) ProcessCompletions(qpair nvme.QpairHandle, maxCompletions int) (int, error) {
	qp, ok := qpair.(*qpairHandle)
	if !ok {
		return 0, fmt.Errorf("memdriver: invalid qpair handle")
	}
	d.mu.Lock()
	q := d.qpairs[qp]
	d.mu.Unlock()
	if q == nil {
		return 0, fmt.Errorf("memdriver: qpair not allocated")
	}

	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if maxCompletions > 0 && len(batch) > maxCompletions {
		q.mu.Lock()
		q.pending = append(q.pending, batch[maxCompletions:]...)
		q.mu.Unlock()
		batch = batch[:maxCompletions]
	}

	for _, p := range batch {
		if p.cb != nil {
			cpl := p.cpl
			p.cb(&cpl)
		}
	}
	return len(batch), nil
}

type dmaBuffer struct {
	buf []byte
}

func (b *dmaBuffer) Bytes() []byte    { return b.buf }
func (b *dmaBuffer) PhysAddr() uint64 { return 0 }

func (d *Driver) AllocDMABuffer(size int) (nvme.DMABuffer, error) {
	return &dmaBuffer{buf: make([]byte, size)}, nil
}

func (d *Driver) FreeDMABuffer(buf nvme.DMABuffer) error {
	return nil
}

func (d *Driver) ReserveZone(name string, size int) (zone.Zone, error) {
	return d.zones.Reserve(name, size)
}

func (d *Driver) LookupZone(name string) (zone.Zone, error) {
	return d.zones.Lookup(name)
}

func (d *Driver) FreeZone(name string) error {
	return d.zones.Free(name)
}

// Size returns the namespace size in bytes.
func (d *Driver) Size() int64 { return d.size }
