package iobuf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/oracle"
	"github.com/nvmeharness/nvmeharness/internal/zone"
)

func TestFillWriteThenVerifyRoundTrip(t *testing.T) {
	reg := zone.NewRegistry()
	table, err := oracle.Attach(reg, 1, 16, true)
	require.NoError(t, err)

	buf := make([]byte, 3*nvme.LogicalBlockSize)
	crcs, err := FillWrite(buf, 5, 3, 1000)
	require.NoError(t, err)
	require.Len(t, crcs, 3)

	for i, crc := range crcs {
		require.NoError(t, table.Update(5+uint64(i), crc))
	}

	res, idx, err := VerifyReadBlocks(table, buf, 5, 3)
	require.NoError(t, err)
	require.Equal(t, -1, idx)
	require.Equal(t, VerifyOK, res)
}

func TestFillWriteBufferTooSmall(t *testing.T) {
	buf := make([]byte, nvme.LogicalBlockSize)
	_, err := FillWrite(buf, 0, 2, 0)
	require.Error(t, err)
}

func TestVerifyReadSkipsUnmapped(t *testing.T) {
	reg := zone.NewRegistry()
	table, err := oracle.Attach(reg, 2, 16, true)
	require.NoError(t, err)

	buf := make([]byte, nvme.LogicalBlockSize)
	_, err = FillWrite(buf, 7, 1, 0)
	require.NoError(t, err)

	res, err := VerifyRead(table, buf, 7)
	require.NoError(t, err)
	require.Equal(t, VerifySkippedUnmapped, res)
	require.False(t, res.Failed())
}

func TestVerifyReadUncorrectable(t *testing.T) {
	reg := zone.NewRegistry()
	table, err := oracle.Attach(reg, 3, 16, true)
	require.NoError(t, err)
	require.NoError(t, table.Clear(7, 1, false, oracle.Uncorrectable))

	buf := make([]byte, nvme.LogicalBlockSize)
	_, err = FillWrite(buf, 7, 1, 0)
	require.NoError(t, err)

	res, err := VerifyRead(table, buf, 7)
	require.NoError(t, err)
	require.Equal(t, VerifyUncorrectable, res)
	require.True(t, res.Failed())
}

func TestVerifyReadLBAMismatch(t *testing.T) {
	reg := zone.NewRegistry()
	table, err := oracle.Attach(reg, 4, 16, true)
	require.NoError(t, err)

	buf := make([]byte, nvme.LogicalBlockSize)
	crcs, err := FillWrite(buf, 7, 1, 0)
	require.NoError(t, err)
	require.NoError(t, table.Update(7, crcs[0]))

	// Re-stamp the block as if it belonged to a different LBA, leaving the
	// oracle entry keyed on 7 stale.
	other := make([]byte, nvme.LogicalBlockSize)
	_, err = FillWrite(other, 8, 1, 0)
	require.NoError(t, err)

	res, err := VerifyRead(table, other, 7)
	require.NoError(t, err)
	require.Equal(t, VerifyLBAMismatch, res)
	require.True(t, res.Failed())
}

func TestVerifyReadCRCMismatch(t *testing.T) {
	reg := zone.NewRegistry()
	table, err := oracle.Attach(reg, 5, 16, true)
	require.NoError(t, err)

	buf := make([]byte, nvme.LogicalBlockSize)
	_, err = FillWrite(buf, 7, 1, 0)
	require.NoError(t, err)
	// Oracle holds a checksum for data that doesn't match what's in buf.
	require.NoError(t, table.Update(7, oracle.Normalize(0xDEADBEEF)))

	res, err := VerifyRead(table, buf, 7)
	require.NoError(t, err)
	require.Equal(t, VerifyCRCMismatch, res)
	require.True(t, res.Failed())
}

func TestVerifyReadBlocksStopsAtFirstFailure(t *testing.T) {
	reg := zone.NewRegistry()
	table, err := oracle.Attach(reg, 6, 16, true)
	require.NoError(t, err)

	buf := make([]byte, 3*nvme.LogicalBlockSize)
	crcs, err := FillWrite(buf, 0, 3, 0)
	require.NoError(t, err)
	require.NoError(t, table.Update(0, crcs[0]))
	require.NoError(t, table.Clear(1, 1, false, oracle.Uncorrectable))
	require.NoError(t, table.Update(2, crcs[2]))

	res, idx, err := VerifyReadBlocks(table, buf, 0, 3)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Equal(t, VerifyUncorrectable, res)
}

func TestVerifyResultString(t *testing.T) {
	require.Equal(t, "ok", VerifyOK.String())
	require.Equal(t, "skipped(unmapped)", VerifySkippedUnmapped.String())
	require.Equal(t, "uncorrectable", VerifyUncorrectable.String())
	require.Equal(t, "lba mismatch", VerifyLBAMismatch.String())
	require.Equal(t, "crc mismatch", VerifyCRCMismatch.String())
}
