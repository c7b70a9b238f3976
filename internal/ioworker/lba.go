package ioworker

import "math/rand"

// lbaSelector produces the next LBA for an I/O, implementing spec §4.4
// "LBA selection". Sequential mode's first Next() call returns lba_start
// itself; every call after that advances by lba_align and wraps.
type lbaSelector struct {
	random bool
	align  uint64
	start  uint64
	end    uint64
	next   uint64
	primed bool
	rng    *rand.Rand
}

func newLBASelector(n normalized, align uint64, random bool, rng *rand.Rand) *lbaSelector {
	return &lbaSelector{
		random: random,
		align:  align,
		start:  n.regionStart,
		end:    n.regionEnd,
		next:   n.lbaStart,
		rng:    rng,
	}
}

// Next returns the LBA for the next I/O and advances internal state.
func (s *lbaSelector) Next() uint64 {
	if s.random {
		lba := s.start
		if s.end > s.start {
			lba = s.start + uint64(s.rng.Int63n(int64(s.end-s.start)))
		}
		return alignDown(lba, s.align)
	}

	if !s.primed {
		s.primed = true
		return alignDown(s.next, s.align)
	}

	s.next += s.align
	if s.next > s.end {
		s.next = s.start
	}
	return alignDown(s.next, s.align)
}

// isRead decides read vs write for one I/O: draw uniform [0,100), read iff
// draw < read_percentage (spec §4.4 "Read/write decision").
func isRead(rng *rand.Rand, readPercentage int) bool {
	return rng.Intn(100) < readPercentage
}
