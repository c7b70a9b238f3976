package ioworker

import (
	"fmt"
	"sync/atomic"

	"github.com/nvmeharness/nvmeharness/internal/zone"
)

// MaxWorkers is the fixed size of the shared status table (spec §3 "I/O
// worker live status": "a shared table (64 slots)").
const MaxWorkers = 64

// StatusZoneName is the well-known zone name the worker status table is
// reserved/looked-up under.
const StatusZoneName = "ioworker.status"

// statusRow mirrors one worker's row: io_count_sent and io_count_cplt, each
// a uint64 so cross-process atomic stores never tear.
type statusRow struct {
	sent uint64
	cplt uint64
}

const statusRowSize = 16

// StatusTable is the shared per-worker progress table (spec §3 "I/O worker
// live status").
type StatusTable struct {
	zone zone.Zone
}

// AttachStatusTable creates (primary) or looks up (secondary) the shared
// status table.
func AttachStatusTable(provider zone.Provider, primary bool) (*StatusTable, error) {
	if primary {
		z, err := provider.Reserve(StatusZoneName, MaxWorkers*statusRowSize)
		if err != nil {
			return nil, fmt.Errorf("ioworker: reserve status table: %w", err)
		}
		return &StatusTable{zone: z}, nil
	}
	z, err := provider.Lookup(StatusZoneName)
	if err != nil {
		return nil, fmt.Errorf("ioworker: lookup status table: %w", err)
	}
	return &StatusTable{zone: z}, nil
}

func (t *StatusTable) row(wid int) *statusRow {
	b := t.zone.Bytes()
	off := wid * statusRowSize
	return bytesToStatusRow(b[off : off+statusRowSize])
}

// PublishSent stores io_count_sent for wid (spec §4.4 "Per-completion
// handler" step 1 applies on completion; submission publication happens
// at issue time).
func (t *StatusTable) PublishSent(wid int, sent uint64) {
	atomic.StoreUint64(&t.row(wid).sent, sent)
}

// PublishCompleted stores io_count_cplt for wid.
func (t *StatusTable) PublishCompleted(wid int, cplt uint64) {
	atomic.StoreUint64(&t.row(wid).cplt, cplt)
}

// Read returns the (sent, cplt) pair for wid, for pollers in other
// processes.
func (t *StatusTable) Read(wid int) (sent, cplt uint64) {
	r := t.row(wid)
	return atomic.LoadUint64(&r.sent), atomic.LoadUint64(&r.cplt)
}
