// Package threadtools gathers the small OS-thread primitives the executor
// subsystem needs: CPU affinity, scheduler policy, and a stand-in for
// goroutine-local storage, built on golang.org/x/sys/unix.
package threadtools

import (
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// SetAffinity pins the calling OS thread to cpu. It must be called from
// the goroutine that should be pinned. Errors are intentionally
// swallowed: affinity is a best-effort performance hint, never a
// correctness requirement.
func SetAffinity(cpu int) {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	_ = unix.SchedSetaffinity(0, &set)
}

// SetSchedPolicy applies a platform-defined scheduler policy by name
// ("fifo", "rr", "other") to the calling thread. Unknown policies are
// ignored. Real-time policies get the minimum real-time priority; raising
// it further is a deployment concern, not a config knob here.
func SetSchedPolicy(name string) {
	attr := unix.SchedAttr{Size: unix.SizeofSchedAttr}
	switch strings.ToLower(name) {
	case "fifo":
		attr.Policy = unix.SCHED_FIFO
		attr.Priority = 1
	case "rr":
		attr.Policy = unix.SCHED_RR
		attr.Priority = 1
	case "other", "":
		attr.Policy = unix.SCHED_NORMAL
	default:
		return
	}
	runtime.LockOSThread()
	_ = unix.SchedSetAttr(0, &attr, 0)
}

// CurrentGoroutineID returns a best-effort, process-unique identifier for
// the calling goroutine, parsed out of its own stack trace header. Go
// deliberately exposes no stable goroutine-id API; this is the standard
// workaround used where a O(1) "am I running on goroutine X" check is
// needed (here, Executor.IsInCurrentExecutor), and it is only ever used as
// a map key or compared for equality against a recorded id, never for
// control flow that assumes IDs are reused or dense.
func CurrentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return -1
	}
	return id
}
