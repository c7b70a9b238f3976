package cmdlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvmeharness/nvmeharness/internal/nvme"
	"github.com/nvmeharness/nvmeharness/internal/oracle"
	"github.com/nvmeharness/nvmeharness/internal/zone"
)

func TestOpenCloseRejectsOutOfRangeAndDoubleOpen(t *testing.T) {
	l := NewLog()

	_, err := l.Open(-1)
	require.Error(t, err)
	_, err = l.Open(MaxQueues)
	require.Error(t, err)

	_, err = l.Open(0)
	require.NoError(t, err)
	_, err = l.Open(0)
	require.Error(t, err)

	require.NoError(t, l.Close(0))
	require.Error(t, l.Close(0))
}

func TestRecordSubmitThenOnCompleteInvokesCallback(t *testing.T) {
	l := NewLog()
	r, err := l.Open(0)
	require.NoError(t, err)

	var gotCpl nvme.Completion
	var gotArg any
	cmd := &nvme.Command{Opcode: nvme.OpcodeWrite}
	submit := time.Unix(100, 0)
	ref := r.RecordSubmit(submit, cmd, nil, func(cpl *nvme.Completion, arg any) {
		gotCpl = *cpl
		gotArg = arg
	}, "hello")

	complete := submit.Add(250 * time.Microsecond)
	OnComplete(ref, complete, &nvme.Completion{CDW0: 7})

	require.Equal(t, "hello", gotArg)
	require.Equal(t, uint32(7), gotCpl.CDW0)
	require.Equal(t, uint32(250), gotCpl.CDW2)
}

func TestOnCompleteFailsStatusOnVerificationFailure(t *testing.T) {
	reg := zone.NewRegistry()
	table, err := oracle.Attach(reg, 1, 16, true)
	require.NoError(t, err)
	require.NoError(t, table.Update(0, oracle.Uncorrectable))

	l := NewLog()
	r, err := l.Open(0)
	require.NoError(t, err)

	buf := make([]byte, nvme.LogicalBlockSize)
	var gotCpl nvme.Completion
	cmd := &nvme.Command{Opcode: nvme.OpcodeRead}
	ref := r.RecordSubmit(time.Unix(0, 0), cmd, &VerifyCtx{
		Buf:         buf,
		StartingLBA: 0,
		BlockCount:  1,
		Table:       table,
	}, func(cpl *nvme.Completion, _ any) {
		gotCpl = *cpl
	}, nil)

	OnComplete(ref, time.Unix(0, 0), &nvme.Completion{})
	require.Equal(t, nvme.VerificationFailureStatus, gotCpl.StatusCode())
}

func TestOnCompleteSkipsVerificationForNonReads(t *testing.T) {
	l := NewLog()
	r, err := l.Open(0)
	require.NoError(t, err)

	var gotCpl nvme.Completion
	cmd := &nvme.Command{Opcode: nvme.OpcodeWrite}
	ref := r.RecordSubmit(time.Unix(0, 0), cmd, &VerifyCtx{
		Table: nil,
	}, func(cpl *nvme.Completion, _ any) {
		gotCpl = *cpl
	}, nil)

	OnComplete(ref, time.Unix(0, 0), &nvme.Completion{CDW0: 1})
	require.Equal(t, uint16(0), gotCpl.StatusCode())
}

func TestRingWrapsAtDepth(t *testing.T) {
	l := NewLog()
	r, err := l.Open(0)
	require.NoError(t, err)

	cmd := &nvme.Command{Opcode: nvme.OpcodeWrite}
	var first Entry
	for i := 0; i < RingDepth; i++ {
		ref := r.RecordSubmit(time.Unix(0, 0), cmd, nil, nil, nil)
		if i == 0 {
			first = ref
		}
	}
	wrapped := r.RecordSubmit(time.Unix(0, 0), cmd, nil, nil, nil)
	require.Equal(t, first.idx, wrapped.idx)
}

func TestDumpClampsToRingDepth(t *testing.T) {
	l := NewLog()
	r, err := l.Open(0)
	require.NoError(t, err)

	out := r.Dump(RingDepth + 100)
	require.Len(t, out, RingDepth)
}

func TestDumpDecodesOpcodeNameCDWsAndLatency(t *testing.T) {
	l := NewLog()
	r, err := l.Open(0)
	require.NoError(t, err)

	cmd := &nvme.Command{Opcode: nvme.OpcodeWrite, CDW10: 5, CDW11: 0, CDW12: 7}
	ref := r.RecordSubmit(time.Unix(0, 0), cmd, nil, nil, nil)
	OnComplete(ref, time.Unix(0, 0).Add(250*time.Microsecond), &nvme.Completion{})

	out := r.Dump(1)
	require.Len(t, out, 1)
	require.Equal(t, "write", out[0].OpcodeName)
	require.Equal(t, uint32(5), out[0].CDW10)
	require.Equal(t, uint32(7), out[0].CDW12)
	require.Equal(t, uint32(250), out[0].LatencyUS)
}
