package channel

import (
	"sync"

	"github.com/coremesh/coremesh/internal/logger"
)

// Publisher is the per-topic handle a module uses to publish, returned by
// HandleProxy.GetPublisher.
type Publisher struct {
	topic  string
	pkg    string
	module string
	mgr    *BackendManager
}

// Publish wraps payload (already serialized by the caller's own message
// type) in an Envelope and routes it through the filter chain and backend
// fan-out. Same-package subscribers still receive the live Envelope value
// by reference, see LocalBackend.Publish, so the common intra-package
// case carries no extra serialization cost.
func (p *Publisher) Publish(msgType string, payload []byte, meta map[string]string) error {
	env := Envelope{Topic: p.topic, MsgType: msgType, Pkg: p.pkg, Payload: payload}
	if meta == nil {
		meta = make(map[string]string)
	}
	return p.mgr.Publish(env, meta)
}

// Subscriber is the per-topic handle a module uses to subscribe, returned
// by HandleProxy.GetSubscriber.
type Subscriber struct {
	topic  string
	pkg    string
	module string
	reg    *Registry
	mgr    *BackendManager
}

// Subscribe registers cb for topic under the owning module/package. It may
// only be called before Start. Every delivery first runs topic's
// subscribe-side filter chain around cb: a filter that declines to call
// its continuation short-circuits that delivery without invoking cb at
// all.
func (s *Subscriber) Subscribe(msgType string, cb SubscribeCallback) bool {
	wrapped := cb
	if s.mgr != nil {
		wrapped = func(msg any, done func(error)) {
			env := Envelope{Topic: s.topic, MsgType: msgType, Pkg: s.pkg}
			s.mgr.SubscribeFilterChain(s.topic, env, make(map[string]string), func(Envelope, map[string]string) {
				cb(msg, done)
			})
		}
	}
	return s.reg.Subscribe(&SubscribeWrapper{
		TopicInfo: TopicInfo{MsgType: msgType, TopicName: s.topic, PkgPath: s.pkg, ModuleName: s.module},
		Callback:  wrapped,
	})
}

// HandleProxy is the per-module channel facade: cached
// Publisher/Subscriber children, and a start-flag that freezes the set of
// reachable topics once the system has passed module Init.
type HandleProxy struct {
	module string
	pkg    string
	reg    *Registry
	mgr    *BackendManager
	log    *logger.Logger

	mu          sync.Mutex
	publishers  map[string]*Publisher
	subscribers map[string]*Subscriber
	started     bool
}

func NewHandleProxy(module, pkg string, reg *Registry, mgr *BackendManager, log *logger.Logger) *HandleProxy {
	return &HandleProxy{
		module:      module,
		pkg:         pkg,
		reg:         reg,
		mgr:         mgr,
		log:         log,
		publishers:  make(map[string]*Publisher),
		subscribers: make(map[string]*Subscriber),
	}
}

// MarkStarted freezes topic creation: once the system transitions past
// module Init, attempting to create a new publisher or subscriber for an
// unseen topic returns nil with a warning.
func (h *HandleProxy) MarkStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
}

func (h *HandleProxy) GetPublisher(topic string) *Publisher {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.publishers[topic]; ok {
		return p
	}
	if h.started {
		if h.log != nil {
			h.log.Warn("channel: refusing new publisher after start",
				logger.String("module", h.module), logger.String("topic", topic))
		}
		return nil
	}
	p := &Publisher{topic: topic, pkg: h.pkg, module: h.module, mgr: h.mgr}
	h.publishers[topic] = p
	return p
}

func (h *HandleProxy) GetSubscriber(topic string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subscribers[topic]; ok {
		return s
	}
	if h.started {
		if h.log != nil {
			h.log.Warn("channel: refusing new subscriber after start",
				logger.String("module", h.module), logger.String("topic", topic))
		}
		return nil
	}
	s := &Subscriber{topic: topic, pkg: h.pkg, module: h.module, reg: h.reg, mgr: h.mgr}
	h.subscribers[topic] = s
	return s
}
