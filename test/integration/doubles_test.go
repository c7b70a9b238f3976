package integration

import (
	"sync"

	"github.com/nvmeharness/nvmeharness/drivers/memdriver"
	"github.com/nvmeharness/nvmeharness/internal/nvme"
)

// lbaRecordingDriver wraps memdriver.Driver, recording the decoded LBA of
// every write it submits before delegating, so a test can assert the real
// LBA sequence an ioworker run produces instead of only a count.
type lbaRecordingDriver struct {
	*memdriver.Driver
	mu   sync.Mutex
	seen []uint64
}

func (d *lbaRecordingDriver) SubmitIORaw(qpair nvme.QpairHandle, cmd *nvme.Command, buf []byte, cb nvme.CompletionCB) error {
	if cmd.Opcode == nvme.OpcodeWrite {
		lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
		d.mu.Lock()
		d.seen = append(d.seen, lba)
		d.mu.Unlock()
	}
	return d.Driver.SubmitIORaw(qpair, cmd, buf, cb)
}

func (d *lbaRecordingDriver) lbas() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint64, len(d.seen))
	copy(out, d.seen)
	return out
}

// stallingDriver wraps memdriver.Driver but never posts a completion for
// any submitted I/O, standing in for a wedged controller so the watchdog
// path (spec §4.4) can be exercised deterministically.
type stallingDriver struct {
	*memdriver.Driver
}

func (d *stallingDriver) SubmitIORaw(qpair nvme.QpairHandle, cmd *nvme.Command, buf []byte, cb nvme.CompletionCB) error {
	return nil
}

func (d *stallingDriver) ProcessCompletions(qpair nvme.QpairHandle, maxCompletions int) (int, error) {
	return 0, nil
}
