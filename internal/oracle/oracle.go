// Package oracle implements the host-maintained checksum oracle: a
// process-shared, LBA-indexed table of per-block CRC32C values used to
// verify read data end-to-end (spec §4.1 "Checksum oracle").
package oracle

import (
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/nvmeharness/nvmeharness/internal/zone"
)

// Sentinel slot values (spec §1, §4.1).
const (
	Unmapped      uint32 = 0
	Uncorrectable uint32 = 0xFFFFFFFF
)

// TableZoneName is the well-known zone name a namespace's oracle table is
// reserved/looked-up under (spec §4.5 "Process-wide state").
func TableZoneName(nsID uint32) string {
	return fmt.Sprintf("oracle.table.ns%d", nsID)
}

// TokenZoneName is the well-known zone name backing the shared IO token
// counter for a namespace (spec §1 "IO token").
func TokenZoneName(nsID uint32) string {
	return fmt.Sprintf("oracle.token.ns%d", nsID)
}

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Table is the checksum oracle for one namespace: a contiguous array of
// 32-bit slots indexed by LBA, backed by a shared zone, plus the shared IO
// token counter. The primary process creates both zones when the namespace
// is attached; secondary processes look them up by the same names.
type Table struct {
	slots []uint32 // aliases the zone's backing bytes, reinterpreted as uint32
	zone  zone.Zone
	token zone.Zone
}

// Attach creates (primary=true) or looks up (primary=false) the oracle
// table and token zones for a namespace of numBlocks logical blocks
// (spec §1 "Checksum oracle", "Lifetime").
func Attach(provider zone.Provider, nsID uint32, numBlocks uint64, primary bool) (*Table, error) {
	tableName := TableZoneName(nsID)
	tokenName := TokenZoneName(nsID)
	size := int(numBlocks) * 4

	var tz, kz zone.Zone
	var err error
	if primary {
		tz, err = provider.Reserve(tableName, size)
		if err != nil {
			return nil, fmt.Errorf("oracle: reserve table: %w", err)
		}
		kz, err = provider.Reserve(tokenName, 8)
		if err != nil {
			return nil, fmt.Errorf("oracle: reserve token: %w", err)
		}
	} else {
		tz, err = provider.Lookup(tableName)
		if err != nil {
			return nil, fmt.Errorf("oracle: lookup table: %w", err)
		}
		kz, err = provider.Lookup(tokenName)
		if err != nil {
			return nil, fmt.Errorf("oracle: lookup token: %w", err)
		}
	}

	return &Table{slots: bytesToUint32Slice(tz.Bytes()), zone: tz, token: kz}, nil
}

// Detach releases the oracle zones. Only the primary should call this
// (spec §4.5 "Primary vs secondary").
func Detach(provider zone.Provider, nsID uint32) error {
	if err := provider.Free(TableZoneName(nsID)); err != nil {
		return err
	}
	return provider.Free(TokenZoneName(nsID))
}

// Clear resets oracle slots to to. sanitize sets every slot of the table
// (count is ignored) and requires lba==0; otherwise it sets
// [lba, lba+count).
// (spec §4.1 "clear"; SPEC_FULL §3 "Sanitize-clear").
func (t *Table) Clear(lba uint64, count uint64, sanitize bool, to uint32) error {
	if sanitize {
		if lba != 0 {
			return fmt.Errorf("oracle: sanitize clear requires lba==0, got %d", lba)
		}
		for i := range t.slots {
			atomic.StoreUint32(&t.slots[i], to)
		}
		return nil
	}
	if lba+count > uint64(len(t.slots)) {
		return fmt.Errorf("oracle: clear range [%d,%d) out of bounds (table has %d slots)", lba, lba+count, len(t.slots))
	}
	for i := lba; i < lba+count; i++ {
		atomic.StoreUint32(&t.slots[i], to)
	}
	return nil
}

// Update stores a clamped CRC32C value in a single slot (spec §4.1 "update").
func (t *Table) Update(lba uint64, crc uint32) error {
	if lba >= uint64(len(t.slots)) {
		return fmt.Errorf("oracle: update lba %d out of bounds", lba)
	}
	atomic.StoreUint32(&t.slots[lba], Normalize(crc))
	return nil
}

// Lookup returns the current slot value for lba (spec §4.1 "lookup").
func (t *Table) Lookup(lba uint64) (uint32, error) {
	if lba >= uint64(len(t.slots)) {
		return 0, fmt.Errorf("oracle: lookup lba %d out of bounds", lba)
	}
	return atomic.LoadUint32(&t.slots[lba]), nil
}

// NextToken atomically reserves n sequential token values and returns the
// first one (spec §4.1 "next_token(n)"). Tokens for a write of n blocks
// starting LBA L are token_base..token_base+n-1, one per block.
func (t *Table) NextToken(n uint64) uint64 {
	counter := bytesToUint64Ptr(t.token.Bytes())
	return atomic.AddUint64(counter, n) - n
}

// Checksum computes the CRC32C of block and normalizes it per spec §4.1
// "CRC normalization" (0 -> 1, 0xFFFFFFFF -> 0xFFFFFFFE).
func Checksum(block []byte) uint32 {
	return Normalize(crc32.Checksum(block, castagnoliTable))
}

// Normalize clamps a raw CRC32C so it never collides with a sentinel.
func Normalize(crc uint32) uint32 {
	switch crc {
	case Unmapped:
		return 1
	case Uncorrectable:
		return Uncorrectable - 1
	default:
		return crc
	}
}

// NumBlocks returns the table's capacity in logical blocks.
func (t *Table) NumBlocks() uint64 { return uint64(len(t.slots)) }
