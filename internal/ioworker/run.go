package ioworker

import (
	"math/rand"
	"time"

	"github.com/nvmeharness/nvmeharness/internal/facade"
	"github.com/nvmeharness/nvmeharness/internal/nvme"
)

// ioCtx is a preallocated per-I/O context: a DMA-backed payload buffer and
// the bookkeeping needed to reissue it (spec §3 "Per-I/O context").
type ioCtx struct {
	idx    int
	dma    nvme.DMABuffer
	lba    uint64
	isRead bool
}

// worker holds all mutable state for one Run invocation. It is only ever
// touched from the single submitting/completing thread (spec §5
// "Scheduling model").
type worker struct {
	ns     *facade.Namespace
	qpair  *facade.QPair
	driver nvme.Driver
	args   *Args
	norm   normalized
	rng    *rand.Rand
	lbaSel *lbaSelector

	status *StatusTable

	contexts []*ioCtx

	rets Rets

	sent      uint64
	completed uint64
	finish    bool

	dueTime     time.Time
	ioDelay     time.Duration
	ioDueTime   time.Time
	timeNextSec time.Time
	secIndex    int
	totalAtLast uint64

	watchdogDeadline time.Time
	state            State
}

// Run blocks on the calling goroutine until the workload terminates,
// returning aggregated statistics (spec §4.4 "Public operation"). status
// may be nil, in which case progress is not published anywhere.
func Run(ns *facade.Namespace, qpair *facade.QPair, driver nvme.Driver, args *Args, status *StatusTable) (Rets, error) {
	if err := validate(args); err != nil {
		se, _ := err.(*ErrSetup)
		r := Rets{}
		if se != nil {
			r.Error = se.Status
		}
		return r, err
	}
	norm := normalize(args)

	w := &worker{
		ns:     ns,
		qpair:  qpair,
		driver: driver,
		args:   args,
		norm:   norm,
		rng:    rand.New(rand.NewSource(deterministicSeed(args.WID))),
		state:  StateInit,
		status: status,
	}
	w.lbaSel = newLBASelector(norm, args.LBAAlign, args.LBARandom, w.rng)

	if err := w.allocContexts(); err != nil {
		return w.rets, err
	}
	defer w.freeContexts()

	start := time.Now()
	w.dueTime = start.Add(time.Duration(norm.seconds) * time.Second)
	if args.IOPS > 0 {
		w.ioDelay = time.Duration(1_000_000/args.IOPS) * time.Microsecond
	}
	w.ioDueTime = start.Add(w.ioDelay)
	w.timeNextSec = start.Add(time.Second)
	w.watchdogDeadline = start.Add(time.Duration(norm.seconds)*time.Millisecond*1000 + 10*time.Second)

	w.state = StatePrefilling

	// Issue the initial batch: one I/O per context.
	for _, ctx := range w.contexts {
		if w.terminationPredicate() {
			break
		}
		if err := w.issue(ctx); err != nil {
			return w.rets, err
		}
	}
	w.state = StateRunning

	for {
		if time.Now().After(w.watchdogDeadline) {
			w.state = StateAborted
			w.rets.Mseconds = uint64(time.Since(start).Milliseconds())
			return w.rets, errWatchdog
		}

		if w.sent == w.completed && w.finish {
			w.state = StateDone
			break
		}

		n, err := w.driver.ProcessCompletions(w.qpair.Handle, 0)
		if err != nil {
			return w.rets, err
		}
		if n == 0 {
			time.Sleep(time.Microsecond)
		}
	}

	w.rets.Mseconds = uint64(time.Since(start).Milliseconds())
	return w.rets, nil
}

// terminationPredicate implements spec §4.4 "Termination predicate":
// io_count_sent == args.io_count, or now > due_time.
func (w *worker) terminationPredicate() bool {
	return w.sent >= w.norm.ioCount || time.Now().After(w.dueTime)
}

func (w *worker) allocContexts() error {
	w.contexts = make([]*ioCtx, w.norm.qdepth)
	for i := range w.contexts {
		buf, err := w.driver.AllocDMABuffer(w.args.LBASize * nvme.LogicalBlockSize)
		if err != nil {
			return err
		}
		w.contexts[i] = &ioCtx{idx: i, dma: buf}
	}
	return nil
}

func (w *worker) freeContexts() {
	for _, ctx := range w.contexts {
		if ctx.dma != nil {
			_ = w.driver.FreeDMABuffer(ctx.dma)
		}
	}
}

// issue submits the next I/O on ctx: picks an LBA and direction, and
// drives a write's oracle update via facade.ReadWrite.
func (w *worker) issue(ctx *ioCtx) error {
	lba := w.lbaSel.Next()
	read := isRead(w.rng, w.args.ReadPercentage)

	ctx.lba = lba
	ctx.isRead = read

	var tokenBase uint64
	if !read {
		tokenBase = w.ns.Oracle.NextToken(uint64(w.args.LBASize))
	}

	err := facade.ReadWrite(w.ns, w.qpair, read, ctx.dma.Bytes(), lba, w.args.LBASize, 0, tokenBase, w.onCompleteCB, ctx.idx)
	if err != nil {
		return err
	}

	w.sent++
	if w.status != nil {
		w.status.PublishSent(w.args.WID, w.sent)
	}
	return nil
}

// onCompleteCB is the single shared completion callback for every context;
// arg carries the context index, so the callback captures no per-context
// state (spec §9 "Callback trampoline"). issue still builds the method
// value w.onCompleteCB, and so allocates it, on every submission.
func (w *worker) onCompleteCB(cpl *nvme.Completion, arg any) {
	idx := arg.(int)
	w.onComplete(w.contexts[idx], cpl)
}

// onComplete implements spec §4.4 "Per-completion handler".
func (w *worker) onComplete(ctx *ioCtx, cpl *nvme.Completion) {
	now := time.Now()

	w.completed++
	if w.status != nil {
		w.status.PublishCompleted(w.args.WID, w.completed)
	}

	latencyUS := uint64(cpl.CDW2)
	if latencyUS > w.rets.LatencyMaxUS {
		w.rets.LatencyMaxUS = latencyUS
	}
	if ctx.isRead {
		w.rets.IOCountRead++
	} else {
		w.rets.IOCountWrite++
	}

	if w.args.IOCounterPerLatency != nil {
		bucket := latencyUS
		if bucket > LatencyHistogramSize-1 {
			bucket = LatencyHistogramSize - 1
		}
		w.args.IOCounterPerLatency[bucket]++
	}

	if w.args.IOPS > 0 {
		if w.ioDueTime.After(now) {
			time.Sleep(w.ioDueTime.Sub(now))
		}
		w.ioDueTime = w.ioDueTime.Add(w.ioDelay)
	}

	if w.args.Observer != nil {
		success := cpl.StatusCode() == 0
		bytes := uint64(w.args.LBASize * nvme.LogicalBlockSize)
		if ctx.isRead {
			w.args.Observer.ObserveRead(bytes, latencyUS*1000, success)
		} else {
			w.args.Observer.ObserveWrite(bytes, latencyUS*1000, success)
		}
		w.args.Observer.ObserveQueueDepth(uint32(w.sent - w.completed))
	}

	if status := cpl.StatusCode(); status != 0 {
		if status == nvme.VerificationFailureStatus && w.args.ReadPercentage < 100 {
			// Mixed workload: a read may race an in-flight write to the
			// same LBA from this same run. Ignore (spec §4.4 step 5).
		} else {
			w.finish = true
			if w.rets.Error == 0 {
				w.rets.Error = status
			}
		}
	}

	if w.args.IOCounterPerSecond != nil && now.After(w.timeNextSec) {
		total := w.rets.IOCountRead + w.rets.IOCountWrite
		if w.secIndex < len(w.args.IOCounterPerSecond) {
			w.args.IOCounterPerSecond[w.secIndex] = total - w.totalAtLast
		}
		w.timeNextSec = w.timeNextSec.Add(time.Second)
		w.secIndex++
		w.totalAtLast = total
	}

	if !w.finish && !w.terminationPredicate() {
		if w.state == StateRunning {
			_ = w.issue(ctx)
		}
	} else if w.state == StateRunning {
		w.state = StateDraining
	}
}

// deterministicSeed derives a reproducible PRNG seed from a worker id
// (spec §4.5 "init(): seed deterministic PRNG").
func deterministicSeed(wid int) int64 {
	return int64(wid)*2654435761 + 1
}
