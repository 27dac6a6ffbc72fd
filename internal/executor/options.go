package executor

import "time"

// OverflowPolicy is the explicit submission-overflow contract: Drop (the
// default) discards over-threshold tasks, Block applies backpressure to
// the submitter, and Grow admits every task regardless of the threshold,
// used sparingly for executors backing diagnostics paths that must never
// lose a task. The pool and time-wheel task channels still hold at most
// QueueThreshold tasks, so under Grow a submit to a full one waits.
type OverflowPolicy int

const (
	Drop OverflowPolicy = iota
	Block
	Grow
)

// Type identifies a concrete executor implementation, matching the
// `executor.executors[].type` config values.
type Type string

const (
	TypeAsioThread   Type = "asio_thread"
	TypeAsioStrand   Type = "asio_strand"
	TypeSimpleThread Type = "simple_thread"
	TypeGuardThread  Type = "guard_thread"
	TypeTimeWheel    Type = "time_wheel"
	TypeNativeThread Type = "native_thread"
)

// Options is the per-executor configuration record decoded from an
// `executor.executors[].options` sub-tree.
type Options struct {
	Name                    string
	Type                    Type
	ThreadNum               int
	ThreadSchedPolicy       string
	ThreadBindCPU           []int
	TimeoutAlarmThresholdUS uint64
	QueueThreshold          uint64
	OverflowPolicy          OverflowPolicy

	// AttachTo names the pool executor a strand or time-wheel executor
	// runs on top of.
	AttachTo string
}

// QueueWarnThreshold is 95% of QueueThreshold: above it submissions are
// still accepted but warned about.
func (o Options) QueueWarnThreshold() uint64 {
	return o.QueueThreshold * 95 / 100
}

func (o Options) timeoutAlarm() time.Duration {
	if o.TimeoutAlarmThresholdUS == 0 {
		return 0
	}
	return time.Duration(o.TimeoutAlarmThresholdUS) * time.Microsecond
}

// normalize fills in defaults (queue_threshold 10000, one thread for
// pool executors) and validates that a name is present; name uniqueness
// is the manager's job.
func (o *Options) normalize() error {
	if o.Name == "" {
		return errNameRequired
	}
	if o.QueueThreshold == 0 {
		o.QueueThreshold = 10000
	}
	switch o.Type {
	case TypeAsioThread, TypeSimpleThread, TypeNativeThread:
		if o.ThreadNum <= 0 {
			o.ThreadNum = 1
		}
	}
	return nil
}
