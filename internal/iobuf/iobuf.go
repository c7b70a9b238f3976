// Package iobuf implements the buffer helper named in spec §2 "Buffer
// helper": write-payload fill (lba + token) and read-payload verification
// against the checksum oracle. It does not allocate buffers; DMA-capable
// buffers come from nvme.Driver.AllocDMABuffer.
package iobuf

import (
	"encoding/binary"
	"fmt"

	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/oracle"
)

// FillWrite stamps count contiguous blocks of buf (each nvme.LogicalBlockSize
// bytes) with the write-payload shape from spec §4.1 "Write payload shape":
// the block's own 8-byte LBA (lba+i) at offset 0 of block i, the 8-byte token
// (tokenBase+i) at the last 8 bytes, and the remainder left as-is. It
// returns the per-block CRC32C (already normalized) so the caller can update
// the oracle before submission.
func FillWrite(buf []byte, lba uint64, count int, tokenBase uint64) ([]uint32, error) {
	blockSize := nvme.LogicalBlockSize
	if len(buf) < count*blockSize {
		return nil, fmt.Errorf("iobuf: buffer too small for %d blocks", count)
	}

	crcs := make([]uint32, count)
	for i := 0; i < count; i++ {
		block := buf[i*blockSize : (i+1)*blockSize]
		binary.LittleEndian.PutUint64(block[0:8], lba+uint64(i))
		binary.LittleEndian.PutUint64(block[blockSize-8:blockSize], tokenBase+uint64(i))
		crcs[i] = oracle.Checksum(block)
	}
	return crcs, nil
}

// VerifyResult is the outcome of verifying one block of a completed read.
type VerifyResult int

const (
	// VerifyOK means no failure was detected for this block.
	VerifyOK VerifyResult = iota
	// VerifySkippedUnmapped means the oracle slot was unmapped; spec §4.1
	// says verification is skipped in this case.
	VerifySkippedUnmapped
	// VerifyUncorrectable means the oracle slot was poisoned.
	VerifyUncorrectable
	// VerifyLBAMismatch means the stored LBA at offset 0 didn't match.
	VerifyLBAMismatch
	// VerifyCRCMismatch means the recomputed, clamped CRC32C disagreed.
	VerifyCRCMismatch
)

func (r VerifyResult) Failed() bool { return r != VerifyOK && r != VerifySkippedUnmapped }

func (r VerifyResult) String() string {
	switch r {
	case VerifyOK:
		return "ok"
	case VerifySkippedUnmapped:
		return "skipped(unmapped)"
	case VerifyUncorrectable:
		return "uncorrectable"
	case VerifyLBAMismatch:
		return "lba mismatch"
	case VerifyCRCMismatch:
		return "crc mismatch"
	default:
		return "unknown"
	}
}

// VerifyRead checks one block of read data against the oracle, following
// the ordered protocol in spec §4.1 "Verification protocol": unmapped ->
// skip; uncorrectable -> fail; LBA mismatch -> fail; CRC mismatch -> fail.
func VerifyRead(table *oracle.Table, block []byte, lba uint64) (VerifyResult, error) {
	slot, err := table.Lookup(lba)
	if err != nil {
		return VerifyOK, err
	}
	if slot == oracle.Unmapped {
		return VerifySkippedUnmapped, nil
	}
	if slot == oracle.Uncorrectable {
		return VerifyUncorrectable, nil
	}

	blockSize := nvme.LogicalBlockSize
	if len(block) < blockSize {
		return VerifyOK, fmt.Errorf("iobuf: block shorter than logical block size")
	}
	storedLBA := binary.LittleEndian.Uint64(block[0:8])
	if storedLBA != lba {
		return VerifyLBAMismatch, nil
	}

	if oracle.Checksum(block) != slot {
		return VerifyCRCMismatch, nil
	}
	return VerifyOK, nil
}

// VerifyReadBlocks verifies count contiguous blocks of buf starting at lba,
// stopping at (and returning) the first failing block's result and index.
// If all blocks pass or are skipped, it returns (VerifyOK, -1, nil).
func VerifyReadBlocks(table *oracle.Table, buf []byte, lba uint64, count int) (VerifyResult, int, error) {
	blockSize := nvme.LogicalBlockSize
	for i := 0; i < count; i++ {
		block := buf[i*blockSize : (i+1)*blockSize]
		res, err := VerifyRead(table, block, lba+uint64(i))
		if err != nil {
			return VerifyOK, i, err
		}
		if res.Failed() {
			return res, i, nil
		}
	}
	return VerifyOK, -1, nil
}
