package core

import (
	"fmt"
	"strings"
	"sync"
)

// Report is the concise initialization report emitted right after Init:
// which stages succeeded, which one (if any) failed and why.
// A full deployment extends this with discovered modules/versions,
// per-executor thread_safe/supports_timer flags, and backends/filters
// per topic; those come from the concrete stages (ModuleManagerStage,
// ChannelStage) once Init succeeds, via their own exported fields.
type Report struct {
	mu        sync.Mutex
	Succeeded []string
	Failed    string
	FailErr   error
}

func (r *Report) addSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Succeeded = append(r.Succeeded, name)
}

func (r *Report) addFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = name
	r.FailErr = err
}

// String renders a log-friendly one-line summary.
func (r *Report) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Failed == "" {
		return fmt.Sprintf("init ok: %s", strings.Join(r.Succeeded, " -> "))
	}
	return fmt.Sprintf("init failed at %s (after %s): %v", r.Failed, strings.Join(r.Succeeded, " -> "), r.FailErr)
}
