// Package ioworker implements the I/O worker (spec §4.4): an asynchronous
// single-queue workload generator that sustains a target queue depth,
// honors IOPS throttling, enforces time/count budgets, samples per-second
// and per-latency histograms, and publishes live progress to a shared
// status table.
package ioworker

import "math"

// Args is the caller-owned, read-only-during-a-run workload specification
// (spec §3 "I/O worker arguments").
type Args struct {
	// LBA geometry.
	LBAStart    uint64
	LBASize     int // block count per I/O
	LBAAlign    uint64
	LBARandom   bool
	RegionStart uint64
	RegionEnd   uint64

	// Mix.
	ReadPercentage int // [0,100]

	// Budget.
	IOCount uint64 // 0 = unbounded
	Seconds int    // 0 = unbounded, capped at 86400

	// Pacing.
	IOPS   int // 0 = unthrottled
	QDepth int

	// Sampling outputs, caller-provided, optional.
	IOCounterPerSecond  []uint64
	IOCounterPerLatency []uint64 // sized for microseconds 0..999999

	// Worker slot index into the shared status table.
	WID int

	// NamespaceBlocks is the namespace size in logical blocks, used to
	// clamp RegionEnd during normalization (spec §4.4 step 2).
	NamespaceBlocks uint64

	// ControllerMaxXfer is the controller's maximum transfer size in
	// bytes, used by the transfer-size validation check (spec §4.4
	// step 1).
	ControllerMaxXfer uint64

	// RingDepth is the command log ring depth backing the qpair this
	// worker drives, used to bound QDepth (spec §4.4 step 1:
	// "qdepth <= ring_depth/2").
	RingDepth int

	// Observer, if non-nil, receives a callback for every completed I/O
	// and queue-depth sample (satisfied by the root package's
	// Metrics/MetricsObserver).
	Observer Observer
}

// Observer is the subset of the root package's metrics-observer contract
// the worker needs; kept as a local interface to avoid an import cycle
// between internal/ioworker and the root package.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveDeallocate()
	ObserveQueueDepth(depth uint32)
}

// Rets is the aggregated statistics returned by Run (spec §3 "I/O worker
// returns").
type Rets struct {
	IOCountRead  uint64
	IOCountWrite uint64
	LatencyMaxUS uint64
	Mseconds     uint64
	Error        uint16 // first-observed NVMe status, (SCT<<8)|SC
}

// LatencyHistogramSize is the number of microsecond buckets an
// IOCounterPerLatency array must provide (spec §3: "sized for
// microseconds 0..999999").
const LatencyHistogramSize = 1_000_000

// MaxSeconds is the clamp applied to Args.Seconds (spec §4.4 step 2).
const MaxSeconds = 86400

// unboundedIOCount is the sentinel io_count==0 normalizes to (spec §4.4
// step 2: "treat io_count == 0 as unbounded (sentinel = max)").
const unboundedIOCount = math.MaxUint64
