package nvmeharness

import (
	"github.com/nvmeharness/nvmeharness/internal/cmdlog"
	"github.com/nvmeharness/nvmeharness/internal/ioworker"
	"github.com/nvmeharness/nvmeharness/internal/nvme"
)

// Re-exported constants for the public API, sourced from the internal
// packages that own them so callers never need to import internal/*
// directly (spec §1, §3, §4.4, §6).
const (
	// LogicalBlockSize is the fixed block size the core operates on.
	LogicalBlockSize = nvme.LogicalBlockSize

	// RingDepth is the fixed per-queue command log capacity.
	RingDepth = cmdlog.RingDepth

	// MaxQueues is the fixed number of queues a command log can track.
	MaxQueues = cmdlog.MaxQueues

	// LatencyHistogramSize is the bucket count an IOCounterPerLatency
	// array passed to RunWorker must provide.
	LatencyHistogramSize = ioworker.LatencyHistogramSize

	// MaxRunSeconds is the clamp applied to Args.Seconds.
	MaxRunSeconds = ioworker.MaxSeconds
)

// DefaultQDepth is a reasonable default I/O queue depth, used by callers
// that don't have a reason to pick something else.
const DefaultQDepth = 32

// DefaultReadPercentage is a 100% read-only mix, the safest default since
// it never exercises the write path's oracle bookkeeping unexpectedly.
const DefaultReadPercentage = 100

// DefaultMaxTransferSize is the controller max-transfer-size RunWorker
// assumes when a caller leaves Args.ControllerMaxXfer unset (1MB, matching
// the teacher's DefaultMaxIOSize).
const DefaultMaxTransferSize = 1 << 20
