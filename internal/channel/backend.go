package channel

import (
	"fmt"
	"sync"

	"github.com/coremesh/coremesh/internal/executor"
	"github.com/coremesh/coremesh/internal/logger"
)

// Backend is the transport contract: a name, an Initialize/Start/Shutdown
// lifecycle, the registry callbacks invoked during Init, and a Publish
// entry point that must never panic.
type Backend interface {
	Name() string
	Initialize(reg *Registry) error
	Start() error
	Shutdown() error
	RegisterPublishType(w *PublishTypeWrapper) bool
	Subscribe(w *SubscribeWrapper) bool
	Publish(env Envelope, srcModule, srcPkg string) error
}

// ExecutorLookup resolves a named executor for re-dispatching subscriber
// callbacks, mirroring the per-module executor-manager proxy from §4.D.
type ExecutorLookup func(name string) (executor.Executor, bool)

// LocalBackend is the zero-copy, always-registered in-process transport.
// Same-package deliveries pass the decoded message by reference;
// cross-package deliveries serialize once per required format with a
// per-call cache, then deliver a deserialized copy to each target.
type LocalBackend struct {
	log      *logger.Logger
	reg      *Registry
	lookupEx ExecutorLookup

	mu         sync.Mutex
	subsByExec map[string]string // module -> executor name, if the subscriber wants re-dispatch
}

// NewLocalBackend constructs the local backend. lookupEx may be nil, in
// which case every subscriber runs on the publisher's own goroutine.
func NewLocalBackend(log *logger.Logger, lookupEx ExecutorLookup) *LocalBackend {
	return &LocalBackend{log: log, lookupEx: lookupEx, subsByExec: make(map[string]string)}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Initialize(reg *Registry) error {
	b.reg = reg
	return nil
}

func (b *LocalBackend) Start() error { return nil }
func (b *LocalBackend) Shutdown() error { return nil }

// RegisterPublishType is a no-op beyond bookkeeping: the registry itself
// already owns the publish-type map; the local backend needs no format,
// since same-process delivery can always pass a reference.
func (b *LocalBackend) RegisterPublishType(w *PublishTypeWrapper) bool { return true }

// Subscribe is a no-op that accepts every subscriber. Which executor a
// module's callbacks are re-dispatched onto is not taken from the
// subscription; callers set it via BindExecutor.
func (b *LocalBackend) Subscribe(w *SubscribeWrapper) bool { return true }

// BindExecutor records that module's subscriber callbacks should be
// re-dispatched onto the named executor instead of running on the
// publisher's own goroutine.
func (b *LocalBackend) BindExecutor(module, executorName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subsByExec[module] = executorName
}

// Publish is a two-tier fan-out: same-package subscribers get env
// forwarded by reference, no serialization, since the value already lives
// in this process's memory; everyone else gets a deserialized copy built
// from env.Marshal's bytes.
func (b *LocalBackend) Publish(env Envelope, srcModule, srcPkg string) error {
	if b.reg == nil {
		return fmt.Errorf("channel: local backend not initialized")
	}

	same := b.reg.SamePackageSubscribers(env.MsgType, env.Topic, srcPkg)
	for module, sub := range same {
		b.deliver(module, sub, &env, nil)
	}

	cross := b.reg.CrossPackageSubscribers(env.Topic, srcPkg)
	var cache []byte
	for _, sub := range cross {
		if cache == nil {
			cache = env.Marshal()
		}
		decoded, err := Unmarshal(cache)
		if err != nil {
			if b.log != nil {
				b.log.Error("channel: failed to deserialize cross-package delivery", logger.Err(err), logger.String("topic", env.Topic))
			}
			continue
		}
		b.deliver(sub.ModuleName, sub, decoded, nil)
	}
	return nil
}

func (b *LocalBackend) deliver(module string, sub *SubscribeWrapper, msg any, doneErr error) {
	done := func(err error) {
		if err != nil && b.log != nil {
			b.log.Warn("channel: subscriber callback failed",
				logger.String("module", module), logger.String("topic", sub.TopicName), logger.Err(err))
		}
	}

	run := func() {
		defer func() {
			if r := recover(); r != nil && b.log != nil {
				b.log.Error("channel: subscriber callback panicked",
					logger.String("module", module), logger.Any("recovered", r))
			}
		}()
		sub.Callback(msg, done)
	}

	b.mu.Lock()
	execName, wantsExec := b.subsByExec[module]
	b.mu.Unlock()

	if wantsExec && b.lookupEx != nil {
		if ex, ok := b.lookupEx(execName); ok {
			ex.Execute(run)
			return
		}
	}
	run()
}

var _ Backend = (*LocalBackend)(nil)
