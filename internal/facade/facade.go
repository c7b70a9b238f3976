// Package facade implements the NVMe façade (spec §4.3): opaque handles
// for a controller, a queue pair, and a namespace, plus the two operations
// that do more than pass through to the external driver: submit_raw (with
// Dataset Management pre-clear) and read_write (with write-path oracle
// bookkeeping).
package facade

import (
	"fmt"

	"github.com/nvmeharness/nvmeharness/internal/cmdlog"
	"github.com/nvmeharness/nvmeharness/internal/iobuf"
	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/oracle"
)

// Controller wraps a probed driver handle together with the command log
// its admin queue (qid 0) uses.
type Controller struct {
	Driver nvme.Driver
	Handle nvme.CtrlrHandle
	Log    *cmdlog.Log
}

// QPair wraps an allocated I/O queue pair handle with the qid its entries
// are logged under.
type QPair struct {
	Handle nvme.QpairHandle
	QID    int
}

// Namespace is restricted to nsid 1 in the core (spec §4.3 "Constraints").
type Namespace struct {
	Ctrlr   *Controller
	NSID    uint32
	Oracle  *oracle.Table
	BlockSize int
}

// NewNamespace binds a namespace id (always nvme.NamespaceID) to its
// oracle table.
func NewNamespace(ctrlr *Controller, table *oracle.Table) *Namespace {
	return &Namespace{Ctrlr: ctrlr, NSID: nvme.NamespaceID, Oracle: table, BlockSize: nvme.LogicalBlockSize}
}

// SubmitRaw constructs the command image, records it in the log (admin
// commands use qid 0), and for opcode 0x09 (Dataset Management with the
// deallocate attribute) pre-clears oracle slots for each range in buf
// before submission (spec §4.3 "submit_raw"; SPEC_FULL §3
// "Deallocate-range pre-clear").
func SubmitRaw(ns *Namespace, qpair *QPair, opcode uint8, buf []byte, cdw10, cdw11, cdw12, cdw13, cdw14, cdw15 uint32, cb cmdlog.UserCB, arg any) error {
	isAdmin := qpair == nil
	qid := 0
	if !isAdmin {
		qid = qpair.QID
	}

	if opcode == nvme.OpcodeDatasetManagement && cdw11&nvme.DSMAttributeDeallocate != 0 {
		nr := int(cdw10&0xFF) + 1
		for _, rng := range nvme.ParseDSMRanges(buf, nr) {
			if err := ns.Oracle.Clear(rng.StartingLBA, uint64(rng.LengthInBlocks), false, oracle.Unmapped); err != nil {
				return fmt.Errorf("facade: dsm pre-clear: %w", err)
			}
		}
	}

	cmd := &nvme.Command{
		Opcode: opcode,
		NSID:   ns.NSID,
		CDW10:  cdw10,
		CDW11:  cdw11,
		CDW12:  cdw12,
		CDW13:  cdw13,
		CDW14:  cdw14,
		CDW15:  cdw15,
	}

	ring := ns.Ctrlr.Log.Ring(qid)
	if ring == nil {
		return fmt.Errorf("facade: qid %d has no open command log ring", qid)
	}

	entry := ring.RecordSubmit(nowFn(), cmd, nil, cb, arg)

	if isAdmin {
		return ns.Ctrlr.Driver.SubmitAdminRaw(ns.Ctrlr.Handle, cmd, buf, completionTrampoline(entry))
	}
	return ns.Ctrlr.Driver.SubmitIORaw(qpair.Handle, cmd, buf, completionTrampoline(entry))
}

// ReadWrite constructs opcode 0x02 (read) or 0x01 (write), encodes
// (count-1)|(flags<<16) into CDW12, fills the write buffer and updates the
// oracle before submission for writes, records the log entry, and submits
// (spec §4.3 "read_write").
func ReadWrite(ns *Namespace, qpair *QPair, isRead bool, buf []byte, lba uint64, count int, flags uint16, tokenBase uint64, cb cmdlog.UserCB, arg any) error {
	if len(buf) < count*ns.BlockSize {
		return fmt.Errorf("facade: buf_len too small for %d blocks", count)
	}

	opcode := nvme.OpcodeWrite
	if isRead {
		opcode = nvme.OpcodeRead
	}

	var verify *cmdlog.VerifyCtx
	if isRead {
		verify = &cmdlog.VerifyCtx{Buf: buf, StartingLBA: lba, BlockCount: count, Table: ns.Oracle}
	} else {
		crcs, err := iobuf.FillWrite(buf, lba, count, tokenBase)
		if err != nil {
			return fmt.Errorf("facade: fill write: %w", err)
		}
		for i, crc := range crcs {
			if err := ns.Oracle.Update(lba+uint64(i), crc); err != nil {
				return fmt.Errorf("facade: oracle update: %w", err)
			}
		}
	}

	cmd := &nvme.Command{
		Opcode: opcode,
		NSID:   ns.NSID,
		CDW10:  nvme.LBALow(lba),
		CDW11:  nvme.LBAHigh(lba),
		CDW12:  nvme.BuildCDW12(uint16(count), flags),
	}

	ring := ns.Ctrlr.Log.Ring(qpair.QID)
	if ring == nil {
		return fmt.Errorf("facade: qid %d has no open command log ring", qpair.QID)
	}
	entry := ring.RecordSubmit(nowFn(), cmd, verify, cb, arg)

	return ns.Ctrlr.Driver.SubmitIORaw(qpair.Handle, cmd, buf, completionTrampoline(entry))
}

// completionTrampoline recovers the log entry from a stable reference and
// runs cmdlog.OnComplete, which is the only place allowed to mutate a
// completion's status after the driver hands it back (spec §9 "Synthetic
// completion mutation").
func completionTrampoline(entry cmdlog.Entry) nvme.CompletionCB {
	return func(cpl *nvme.Completion) {
		cmdlog.OnComplete(entry, nowFn(), cpl)
	}
}
