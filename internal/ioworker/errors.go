package ioworker

import "errors"

// errWatchdog is returned when the wall-clock watchdog fires before the
// workload drains, i.e. once the run has lasted more than
// seconds*1000+10000 ms (spec §4.4 "Primary loop"). It carries no numeric
// exit code, and being unexported it cannot be matched by callers.
var errWatchdog = errors.New("ioworker: watchdog expired, aborting")
