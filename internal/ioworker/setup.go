package ioworker

import (
	"fmt"

	"github.com/nvmeharness/nvmeharness/internal/nvme"
)

// ErrSetup is returned by validate/normalize failures that must map to a
// specific Rets.Error and exit code (spec §4.4 step 1).
type ErrSetup struct {
	Status  uint16
	ExitVal int
	Msg     string
}

func (e *ErrSetup) Error() string {
	return fmt.Sprintf("ioworker: setup: %s (status=0x%04x, exit=%d)", e.Msg, e.Status, e.ExitVal)
}

// validate implements spec §4.4 step 1.
func validate(a *Args) error {
	if a.ReadPercentage < 0 || a.ReadPercentage > 100 {
		return &ErrSetup{Msg: "read_percentage out of [0,100]", ExitVal: -1}
	}
	if a.IOCount == 0 && a.Seconds == 0 {
		return &ErrSetup{Msg: "at least one of io_count/seconds must be nonzero", ExitVal: -1}
	}
	if a.Seconds > MaxSeconds {
		return &ErrSetup{Msg: "seconds exceeds 86400", ExitVal: -1}
	}
	if a.LBASize <= 0 {
		return &ErrSetup{Msg: "lba_size must be > 0", ExitVal: -1}
	}
	if a.RegionStart >= a.RegionEnd {
		return &ErrSetup{Msg: "region_start must be < region_end", ExitVal: -1}
	}
	if a.QDepth > a.RingDepth/2 {
		return &ErrSetup{Msg: "qdepth exceeds ring_depth/2", ExitVal: -1}
	}
	if uint64(a.LBASize)*nvme.LogicalBlockSize > a.ControllerMaxXfer {
		return &ErrSetup{
			Status:  nvme.InvalidFieldStatus,
			ExitVal: -2,
			Msg:     "lba_size * block_size exceeds controller_max_xfer",
		}
	}
	return nil
}

// normalized holds the post-step-2 working values, kept separate from the
// caller-owned Args (which stays read-only during a run per spec §3).
type normalized struct {
	ioCount     uint64
	seconds     int
	regionStart uint64
	regionEnd   uint64
	lbaStart    uint64
	qdepth      int
}

// normalize implements spec §4.4 step 2.
func normalize(a *Args) normalized {
	n := normalized{
		ioCount:     a.IOCount,
		seconds:     a.Seconds,
		regionStart: a.RegionStart,
		regionEnd:   a.RegionEnd,
		lbaStart:    a.LBAStart,
		qdepth:      a.QDepth,
	}

	if n.ioCount == 0 {
		n.ioCount = unboundedIOCount
	}
	if n.seconds == 0 || n.seconds > MaxSeconds {
		n.seconds = MaxSeconds
	}
	if n.regionEnd > a.NamespaceBlocks {
		n.regionEnd = a.NamespaceBlocks
	}

	n.regionStart = alignUp(n.regionStart, a.LBAAlign)

	// effective region_end = align_down(region_end - lba_size - 1, lba_align)
	lbaSize := uint64(a.LBASize)
	if n.regionEnd >= lbaSize+1 {
		n.regionEnd = alignDown(n.regionEnd-lbaSize-1, a.LBAAlign)
	} else {
		n.regionEnd = 0
	}

	if n.lbaStart < n.regionStart {
		n.lbaStart = n.regionStart
	}

	if uint64(n.qdepth) > n.ioCount {
		n.qdepth = int(n.ioCount)
	}

	return n
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return ((v + align - 1) / align) * align
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v / align) * align
}
