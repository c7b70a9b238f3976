package zone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReserveThenLookupSharesBackingBytes(t *testing.T) {
	reg := NewRegistry()
	z, err := reg.Reserve("table-0", 16)
	require.NoError(t, err)

	z.Bytes()[0] = 0xAB

	got, err := reg.Lookup("table-0")
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), got.Bytes()[0])
}

func TestReserveRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Reserve("dup", 8)
	require.NoError(t, err)
	_, err = reg.Reserve("dup", 8)
	require.Error(t, err)
}

func TestLookupUnknownNameFails(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("missing")
	require.Error(t, err)
}

func TestFreeThenLookupFails(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Reserve("gone", 8)
	require.NoError(t, err)
	require.NoError(t, reg.Free("gone"))

	_, err = reg.Lookup("gone")
	require.Error(t, err)
}

func TestFreeUnknownNameFails(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Free("never-reserved"))
}
