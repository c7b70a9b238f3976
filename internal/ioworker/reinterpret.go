package ioworker

import "unsafe"

// bytesToStatusRow reinterprets a 16-byte slice of a shared zone as a
// *statusRow, matching the same unsafe.Pointer-arithmetic style used for
// the checksum oracle (internal/oracle/reinterpret.go) and for the
// corpus's mmap'd descriptor arrays (internal/queue/runner.go).
func bytesToStatusRow(buf []byte) *statusRow {
	if len(buf) < statusRowSize {
		panic("ioworker: status row slice too small")
	}
	return (*statusRow)(unsafe.Pointer(&buf[0]))
}
