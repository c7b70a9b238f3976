package nvmeharness

import (
	"sync"

	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/zone"
)

// FaultInjectingDriver wraps an nvme.Driver and lets tests force a specific
// completion status for the next I/O that starts at a given LBA, or count
// how many times each Driver method was called. It is the harness-domain
// counterpart to the teacher's call-tracking MockBackend, retargeted from
// backend ReadAt/WriteAt/Flush/Sync calls to Driver submit/completion
// calls, for tests that need a deterministic, one-shot injected failure
// rather than a real media error.
type FaultInjectingDriver struct {
	inner nvme.Driver

	mu              sync.Mutex
	injectedStatus  map[uint64]uint16
	submitCalls     int
	completionCalls int
	adminCalls      int
}

// NewFaultInjectingDriver wraps inner, passing every call through
// unmodified until InjectStatus is used.
func NewFaultInjectingDriver(inner nvme.Driver) *FaultInjectingDriver {
	return &FaultInjectingDriver{inner: inner, injectedStatus: make(map[uint64]uint16)}
}

// InjectStatus arranges for the next I/O command starting at lba to
// complete with the given packed (SCT<<8)|SC status instead of whatever
// the wrapped driver would have returned. The injection is consumed after
// firing once.
func (d *FaultInjectingDriver) InjectStatus(lba uint64, status uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injectedStatus[lba] = status
}

// ClearInjections removes all pending injected statuses.
func (d *FaultInjectingDriver) ClearInjections() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injectedStatus = make(map[uint64]uint16)
}

// CallCounts returns, for test assertions, how many times SubmitIORaw
// ("submit") and SubmitAdminRaw ("admin") have been called, and how many
// completions ProcessCompletions has delivered ("completions").
func (d *FaultInjectingDriver) CallCounts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]int{
		"submit":      d.submitCalls,
		"admin":       d.adminCalls,
		"completions": d.completionCalls,
	}
}

func (d *FaultInjectingDriver) Probe(tr nvme.TransportID) (nvme.CtrlrHandle, error) {
	return d.inner.Probe(tr)
}

func (d *FaultInjectingDriver) AllocIOQpair(ctrlr nvme.CtrlrHandle, opts nvme.QpairOpts) (nvme.QpairHandle, error) {
	return d.inner.AllocIOQpair(ctrlr, opts)
}

func (d *FaultInjectingDriver) FreeIOQpair(qpair nvme.QpairHandle) error {
	return d.inner.FreeIOQpair(qpair)
}

func (d *FaultInjectingDriver) SubmitAdminRaw(ctrlr nvme.CtrlrHandle, cmd *nvme.Command, buf []byte, cb nvme.CompletionCB) error {
	d.mu.Lock()
	d.adminCalls++
	d.mu.Unlock()
	return d.inner.SubmitAdminRaw(ctrlr, cmd, buf, cb)
}

func (d *FaultInjectingDriver) SubmitIORaw(qpair nvme.QpairHandle, cmd *nvme.Command, buf []byte, cb nvme.CompletionCB) error {
	d.mu.Lock()
	d.submitCalls++
	lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
	status, injected := d.injectedStatus[lba]
	if injected {
		delete(d.injectedStatus, lba)
	}
	d.mu.Unlock()

	wrapped := cb
	if injected && cb != nil {
		wrapped = func(cpl *nvme.Completion) {
			cpl.SetStatus(uint8(status>>8), uint8(status))
			cb(cpl)
		}
	}
	return d.inner.SubmitIORaw(qpair, cmd, buf, wrapped)
}

func (d *FaultInjectingDriver) ProcessCompletions(qpair nvme.QpairHandle, maxCompletions int) (int, error) {
	n, err := d.inner.ProcessCompletions(qpair, maxCompletions)
	d.mu.Lock()
	d.completionCalls += n
	d.mu.Unlock()
	return n, err
}

func (d *FaultInjectingDriver) AllocDMABuffer(size int) (nvme.DMABuffer, error) {
	return d.inner.AllocDMABuffer(size)
}

func (d *FaultInjectingDriver) FreeDMABuffer(buf nvme.DMABuffer) error {
	return d.inner.FreeDMABuffer(buf)
}

func (d *FaultInjectingDriver) ReserveZone(name string, size int) (zone.Zone, error) {
	return d.inner.ReserveZone(name, size)
}

func (d *FaultInjectingDriver) LookupZone(name string) (zone.Zone, error) {
	return d.inner.LookupZone(name)
}

func (d *FaultInjectingDriver) FreeZone(name string) error {
	return d.inner.FreeZone(name)
}

var _ nvme.Driver = (*FaultInjectingDriver)(nil)
