// Package nvmeharness is a test-harness driver for NVMe block devices: it
// issues raw NVMe admin and I/O commands against a user-space NVMe driver
// (PCIe or TCP transport), records every submission and completion, and
// verifies returned read data against a host-maintained checksum oracle
// (spec §1 "Purpose & Scope").
package nvmeharness

import (
	"encoding/binary"
	"fmt"

	"github.com/nvmeharness/nvmeharness/internal/cmdlog"
	"github.com/nvmeharness/nvmeharness/internal/facade"
	"github.com/nvmeharness/nvmeharness/internal/ioworker"
	"github.com/nvmeharness/nvmeharness/internal/logging"
	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/oracle"
	"github.com/nvmeharness/nvmeharness/internal/procenv"
	"github.com/nvmeharness/nvmeharness/internal/zone"
)

// Device is the harness's top-level handle on a probed controller and its
// attached namespace: the façade's Controller/Namespace, the admin-queue
// command log, device-wide metrics, and the process's primary/secondary
// role (spec §4.5 "Process lifecycle").
type Device struct {
	Driver nvme.Driver
	Env    *procenv.Env

	Ctrlr *facade.Controller
	NS    *facade.Namespace

	Metrics  *Metrics
	Observer Observer

	// Status is the shared per-worker progress table RunWorker publishes
	// into and WorkerStatus reads from (spec §3 "I/O worker live status").
	Status *ioworker.StatusTable

	qpairs  map[int]*facade.QPair
	nextQID int
}

// Options configures Attach.
type Options struct {
	// Role distinguishes the process creating shared zones from one that
	// only attaches to them (spec §4.5 "Primary vs secondary").
	Role procenv.Role

	// Logger, if nil, uses logging.Default().
	Logger *logging.Logger

	// Observer, if nil, uses a MetricsObserver wrapping a fresh Metrics.
	Observer Observer
}

// Attach probes tr, opens the admin-queue command log, and attaches (or
// creates, if primary) the namespace's checksum oracle — the glue the
// spec's §4.5 "init()" and §4.1 "attach(num_blocks)" describe, wired
// together against a concrete driver.
func Attach(driver nvme.Driver, tr nvme.TransportID, numBlocks uint64, opts *Options) (*Device, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	env, err := procenv.Init(opts.Role, logger)
	if err != nil {
		return nil, fmt.Errorf("nvmeharness: init: %w", err)
	}

	ctrlrHandle, err := driver.Probe(tr)
	if err != nil {
		return nil, fmt.Errorf("nvmeharness: probe: %w", err)
	}

	// Reuse procenv's already-open qid-0 ring as the admin log rather than
	// opening a second one; there is exactly one admin queue per process
	// (spec §4.5), and Detach tears it down through Env.Fini alone.
	ctrlr := &facade.Controller{Driver: driver, Handle: ctrlrHandle, Log: env.AdminLog}

	table, err := oracle.Attach(driverZoneProvider{driver}, nvme.NamespaceID, numBlocks, opts.Role == procenv.RolePrimary)
	if err != nil {
		return nil, fmt.Errorf("nvmeharness: attach oracle: %w", err)
	}

	status, err := ioworker.AttachStatusTable(driverZoneProvider{driver}, opts.Role == procenv.RolePrimary)
	if err != nil {
		return nil, fmt.Errorf("nvmeharness: attach status table: %w", err)
	}

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	return &Device{
		Driver:   driver,
		Env:      env,
		Ctrlr:    ctrlr,
		NS:       facade.NewNamespace(ctrlr, table),
		Metrics:  metrics,
		Observer: observer,
		Status:   status,
		qpairs:   make(map[int]*facade.QPair),
	}, nil
}

// Detach tears down the admin-queue command log and, for the primary role,
// the namespace's oracle zones (spec §4.1 "destroyed on namespace teardown
// by the primary only"; §4.5 "fini()").
func (d *Device) Detach() error {
	if err := d.Env.Fini(); err != nil {
		return err
	}
	if d.Env.Role == procenv.RolePrimary {
		if err := oracle.Detach(driverZoneProvider{d.Driver}, nvme.NamespaceID); err != nil {
			return err
		}
		provider := driverZoneProvider{d.Driver}
		if err := provider.Free(ioworker.StatusZoneName); err != nil {
			return err
		}
	}
	return nil
}

// driverZoneProvider adapts nvme.Driver's ReserveZone/LookupZone/FreeZone
// trio to the zone.Provider interface internal/oracle is written against,
// since the Driver contract names them distinctly to read well alongside
// its other Alloc/Free pairs (spec §6).
type driverZoneProvider struct {
	driver nvme.Driver
}

func (p driverZoneProvider) Reserve(name string, size int) (zone.Zone, error) {
	return p.driver.ReserveZone(name, size)
}

func (p driverZoneProvider) Lookup(name string) (zone.Zone, error) {
	return p.driver.LookupZone(name)
}

func (p driverZoneProvider) Free(name string) error {
	return p.driver.FreeZone(name)
}

// OpenQueue allocates an I/O queue pair and its command log ring, returning
// the qid RunWorker/Trim callers should use.
func (d *Device) OpenQueue(opts nvme.QpairOpts) (int, error) {
	handle, err := d.Driver.AllocIOQpair(d.Ctrlr.Handle, opts)
	if err != nil {
		return 0, fmt.Errorf("nvmeharness: alloc qpair: %w", err)
	}
	d.nextQID++
	qid := d.nextQID
	if _, err := d.Ctrlr.Log.Open(qid); err != nil {
		return 0, err
	}
	d.qpairs[qid] = &facade.QPair{Handle: handle, QID: qid}
	return qid, nil
}

// CloseQueue releases a queue pair and its command log ring.
func (d *Device) CloseQueue(qid int) error {
	qp, ok := d.qpairs[qid]
	if !ok {
		return fmt.Errorf("nvmeharness: qid %d not open", qid)
	}
	if err := d.Driver.FreeIOQpair(qp.Handle); err != nil {
		return err
	}
	delete(d.qpairs, qid)
	return d.Ctrlr.Log.Close(qid)
}

// RunWorker runs the I/O worker against qid, blocking until the workload
// terminates (spec §4.4 "Public operation").
func (d *Device) RunWorker(qid int, args *ioworker.Args) (ioworker.Rets, error) {
	qp, ok := d.qpairs[qid]
	if !ok {
		return ioworker.Rets{}, fmt.Errorf("nvmeharness: qid %d not open", qid)
	}
	if args.Observer == nil {
		args.Observer = d.Observer
	}
	if args.NamespaceBlocks == 0 {
		args.NamespaceBlocks = d.NS.Oracle.NumBlocks()
	}
	if args.RingDepth == 0 {
		args.RingDepth = cmdlog.RingDepth
	}
	if args.ControllerMaxXfer == 0 {
		args.ControllerMaxXfer = DefaultMaxTransferSize
	}
	return ioworker.Run(d.NS, qp, d.Driver, args, d.Status)
}

// WorkerStatus returns the (sent, completed) I/O counts last published by
// worker wid, for pollers wanting mid-run progress without blocking on
// RunWorker's return (spec §3 "I/O worker live status").
func (d *Device) WorkerStatus(wid int) (sent, completed uint64) {
	return d.Status.Read(wid)
}

// Trim issues a Dataset Management deallocate for [lba, lba+count) on qid,
// pre-clearing the oracle as a side effect (spec §4.3 "submit_raw", opcode
// 0x09; SPEC_FULL §3 "Deallocate-range pre-clear").
func (d *Device) Trim(qid int, lba uint64, count uint64) error {
	qp, ok := d.qpairs[qid]
	if !ok {
		return fmt.Errorf("nvmeharness: qid %d not open", qid)
	}

	rangeBuf := make([]byte, 16)
	binary.LittleEndian.PutUint32(rangeBuf[0:4], 0)
	binary.LittleEndian.PutUint32(rangeBuf[4:8], uint32(count))
	binary.LittleEndian.PutUint64(rangeBuf[8:16], lba)

	done := make(chan error, 1)
	err := facade.SubmitRaw(d.NS, qp, nvme.OpcodeDatasetManagement, rangeBuf,
		0, // CDW10: NR=0 (one range, zero-based)
		nvme.DSMAttributeDeallocate,
		0, 0, 0, 0,
		func(cpl *nvme.Completion, _ any) {
			if cpl.StatusCode() != 0 {
				done <- fmt.Errorf("nvmeharness: trim failed, status=0x%04x", cpl.StatusCode())
				return
			}
			done <- nil
		}, nil)
	if err != nil {
		return err
	}
	d.Observer.ObserveDeallocate()

	for {
		n, perr := d.Driver.ProcessCompletions(qp.Handle, 1)
		if perr != nil {
			return perr
		}
		if n > 0 {
			break
		}
	}
	return <-done
}
