package nvme

import "github.com/nvmeharness/nvmeharness/internal/zone"

// Driver is the narrow contract the harness depends on for everything that
// actually touches a controller: probing, queue-pair lifecycle, raw command
// submission, completion polling, DMA-capable buffer allocation, and the
// named shared-memory zones the oracle and worker status table live in.
// Building a real implementation of this interface (PCIe or TCP transport,
// completion-queue polling, SGL/PRP mapping) is the external driver stack
// spec §6 places outside the core; drivers/memdriver is the in-memory stand-in
// used by the core's own tests.
type Driver interface {
	// Probe attaches to the controller identified by tr and returns a handle
	// good for the lifetime of the process.
	Probe(tr TransportID) (CtrlrHandle, error)

	// AllocIOQpair creates an I/O queue pair against an already-probed
	// controller.
	AllocIOQpair(ctrlr CtrlrHandle, opts QpairOpts) (QpairHandle, error)

	// FreeIOQpair releases a queue pair allocated by AllocIOQpair.
	FreeIOQpair(qpair QpairHandle) error

	// SubmitAdminRaw submits a pre-built admin command against ctrlr, with
	// buf as its data payload (spec §4.3 "submit_raw": buf, len are
	// explicit parameters, not carried inside the command image). cb fires
	// once the controller posts a completion; ProcessCompletions takes only
	// I/O queue pairs, so when cb runs is up to the implementation
	// (drivers/memdriver runs it before SubmitAdminRaw returns).
	SubmitAdminRaw(ctrlr CtrlrHandle, cmd *Command, buf []byte, cb CompletionCB) error

	// SubmitIORaw submits a pre-built I/O command on qpair, with buf as its
	// data payload. cb fires from ProcessCompletions once the controller
	// posts a completion.
	SubmitIORaw(qpair QpairHandle, cmd *Command, buf []byte, cb CompletionCB) error

	// ProcessCompletions polls qpair for completed commands, invoking each
	// command's callback, and returns the number processed. maxCompletions
	// of 0 means "no limit".
	ProcessCompletions(qpair QpairHandle, maxCompletions int) (int, error)

	// AllocDMABuffer returns a buffer suitable for use as a command's data
	// payload (PRP1-mapped on real hardware; a plain slice here).
	AllocDMABuffer(size int) (DMABuffer, error)

	// FreeDMABuffer releases a buffer returned by AllocDMABuffer.
	FreeDMABuffer(buf DMABuffer) error

	// ReserveZone, LookupZone, and FreeZone expose the driver's named
	// shared-memory zones (spec §6 "Shared-memory zones"): the checksum
	// oracle table, the IO token counter, and the worker status table all
	// live in zones keyed by well-known names so a primary and its
	// secondary processes can find them independently.
	ReserveZone(name string, size int) (zone.Zone, error)
	LookupZone(name string) (zone.Zone, error)
	FreeZone(name string) error
}

// CompletionCB is invoked once per completed command from within
// ProcessCompletions, on the calling goroutine.
type CompletionCB func(cpl *Completion)

// DMABuffer is a driver-allocated, DMA-capable buffer. Bytes returns the
// addressable slice; PhysAddr is opaque outside the driver and is only
// threaded through Command.PRP1/PRP2 by the caller.
type DMABuffer interface {
	Bytes() []byte
	PhysAddr() uint64
}

// CtrlrHandle and QpairHandle are opaque driver-assigned handles. The core
// never inspects their contents; it only ever passes them back to the
// Driver that produced them.
type CtrlrHandle interface{ ctrlrHandle() }
type QpairHandle interface{ qpairHandle() }

// TransportID names a controller to Probe: either a PCIe BDF-style address
// (TransportPCIe) or a host:port TCP address (TransportTCP), matching
// spec §6's "probe" step. If TransportTCP's Address carries no ':', the
// driver should assume TCPDefaultPort.
type TransportID struct {
	Transport TransportKind
	Address   string
}

// QpairOpts configures a queue pair at allocation time.
type QpairOpts struct {
	// Depth is the number of outstanding commands the pair can hold.
	Depth int
	// Priority is driver-specific (e.g. NVMe weighted round-robin class);
	// zero means "default".
	Priority int
}
