// Package procenv implements the process/driver lifecycle (spec §4.5):
// environment init/teardown, per-process core assignment, and the
// primary-vs-secondary role distinguishing which process creates the
// oracle/status shared zones versus which merely looks them up.
package procenv

import (
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/nvmeharness/nvmeharness/internal/cmdlog"
	"github.com/nvmeharness/nvmeharness/internal/logging"
)

// Role distinguishes the process that creates shared zones from the ones
// that merely attach to them (spec §4.5 "Primary vs secondary").
type Role int

const (
	// RolePrimary creates and destroys the oracle/status zones.
	RolePrimary Role = iota
	// RoleSecondary looks up zones by well-known name.
	RoleSecondary
)

// Env is the process-wide environment created by Init and torn down by
// Fini. It owns the admin-queue (qid 0) command log.
type Env struct {
	Role     Role
	AdminLog *cmdlog.Log
	logger   *logging.Logger
}

// Init creates the admin-queue command log and pins this OS thread to the
// core selected by the mask 1 << (pid mod cpu_count) so concurrently
// running processes spread across host cores (spec §4.5 "init()"). It
// seeds no PRNG; each ioworker.Run seeds its own from the worker id. The "shared
// memory group id" the spec describes is realized by role: the primary
// reserves zones under well-known names, secondaries look the same names
// up (see internal/zone, internal/oracle, internal/ioworker).
func Init(role Role, logger *logging.Logger) (*Env, error) {
	log := cmdlog.NewLog()
	if _, err := log.Open(0); err != nil {
		return nil, err
	}

	if err := pinToCore(); err != nil && logger != nil {
		logger.Debugf("procenv: core affinity not applied: %v", err)
	}

	return &Env{Role: role, AdminLog: log, logger: logger}, nil
}

// Fini deletes the admin-queue command log. External environment teardown
// (driver detach, zone free) is the caller's/driver's responsibility
// (spec §4.5 "fini()").
func (e *Env) Fini() error {
	return e.AdminLog.Close(0)
}

// pinToCore pins the calling OS thread to CPU (pid mod cpu_count), per
// driver.c's driver_init core_mask computation (SPEC_FULL §3
// "Per-process core affinity").
func pinToCore() error {
	runtime.LockOSThread()

	cpuCount := runtime.NumCPU()
	if cpuCount == 0 {
		cpuCount = 1
	}
	core := os.Getpid() % cpuCount

	var mask unix.CPUSet
	mask.Set(core)
	return unix.SchedSetaffinity(0, &mask)
}
