package channel

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/coremesh/coremesh/internal/logger"
)

// Filter is a composable publish/subscribe interceptor: it may mutate
// context metadata, short-circuit by not calling next, or re-dispatch next
// onto an executor.
type Filter func(env Envelope, meta map[string]string, next func(Envelope, map[string]string))

// topicBackendRule is one compiled `pub_topics_options[]`/
// `sub_topics_options[]` entry's backend list; topic_name is a regex or
// literal matched against the topic. The pattern is anchored with
// ^(?:...)$ at compile time (see compileTopic below) so a literal topic
// name matches only that exact topic, and an explicit regex still behaves
// as a whole-string match rather than a substring search.
type topicBackendRule struct {
	pattern *regexp.Regexp
	names   []string
}

type topicFilterRule struct {
	pattern *regexp.Regexp
	filters []Filter
}

// BackendManager owns the ordered backend list, per-topic enabled-backend
// lists for publish and subscribe, and the two filter chains (publish-side,
// subscribe-side).
type BackendManager struct {
	log      *logger.Logger
	registry *Registry

	mu              sync.RWMutex
	backends        map[string]Backend
	backendOrder    []string
	pubBackendRules []topicBackendRule // matched in registration order, first match wins
	subBackendRules []topicBackendRule
	pubFilterRules  []topicFilterRule
	subFilterRules  []topicFilterRule
	passedMetaKeys  map[string]struct{}
	defaultPubList  []string
	defaultSubList  []string
}

func NewBackendManager(log *logger.Logger, reg *Registry) *BackendManager {
	return &BackendManager{
		log:            log,
		registry:       reg,
		backends:       make(map[string]Backend),
		passedMetaKeys: make(map[string]struct{}),
	}
}

// RegisterBackend adds a backend in config order and calls its Initialize.
// The first registered backend list becomes the default enabled set for
// any topic that does not specify enable_backends explicitly.
func (m *BackendManager) RegisterBackend(b Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.backends[b.Name()]; exists {
		return fmt.Errorf("channel: backend %q already registered", b.Name())
	}
	if err := b.Initialize(m.registry); err != nil {
		return fmt.Errorf("channel: backend %q init: %w", b.Name(), err)
	}
	m.backends[b.Name()] = b
	m.backendOrder = append(m.backendOrder, b.Name())
	m.defaultPubList = append(m.defaultPubList, b.Name())
	m.defaultSubList = append(m.defaultSubList, b.Name())
	return nil
}

// compileTopic anchors topic (a literal name or a regex fragment) so
// matching is whole-string rather than substring.
func compileTopic(topic string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + topic + ")$")
	if err != nil {
		return nil, fmt.Errorf("channel: invalid topic_name pattern %q: %w", topic, err)
	}
	return re, nil
}

// SetTopicBackends registers topic's (a topic_name pattern) explicit
// enable_backends list for publish and/or subscribe. A topic that matches
// no registered rule falls back to the manager's default list (every
// registered backend, in registration order).
func (m *BackendManager) SetTopicBackends(topic string, publish, subscribe []string) error {
	re, err := compileTopic(topic)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if publish != nil {
		m.pubBackendRules = append(m.pubBackendRules, topicBackendRule{pattern: re, names: publish})
	}
	if subscribe != nil {
		m.subBackendRules = append(m.subBackendRules, topicBackendRule{pattern: re, names: subscribe})
	}
	return nil
}

// SetTopicFilters registers topic's filter chains for publish and/or
// subscribe.
func (m *BackendManager) SetTopicFilters(topic string, publish, subscribe []Filter) error {
	re, err := compileTopic(topic)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if publish != nil {
		m.pubFilterRules = append(m.pubFilterRules, topicFilterRule{pattern: re, filters: publish})
	}
	if subscribe != nil {
		m.subFilterRules = append(m.subFilterRules, topicFilterRule{pattern: re, filters: subscribe})
	}
	return nil
}

// AddPassedContextMetaKeys registers keys that must flow from a subscribe
// context into any publish context produced while re-emitting.
func (m *BackendManager) AddPassedContextMetaKeys(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.passedMetaKeys[k] = struct{}{}
	}
}

// MergeSubscribeContextToPublishContext copies exactly the registered
// passed-meta-keys from sub into pub, leaving any other keys in pub alone.
func (m *BackendManager) MergeSubscribeContextToPublishContext(sub, pub map[string]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k := range m.passedMetaKeys {
		if v, ok := sub[k]; ok {
			pub[k] = v
		}
	}
}

func (m *BackendManager) Start() error {
	m.mu.RLock()
	order := append([]string(nil), m.backendOrder...)
	backends := m.cloneBackends()
	m.mu.RUnlock()
	for _, name := range order {
		if err := backends[name].Start(); err != nil {
			return fmt.Errorf("channel: backend %q start: %w", name, err)
		}
	}
	return nil
}

func (m *BackendManager) Shutdown() error {
	m.mu.RLock()
	order := append([]string(nil), m.backendOrder...)
	backends := m.cloneBackends()
	m.mu.RUnlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := backends[name].Shutdown(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channel: backend %q shutdown: %w", name, err)
		}
	}
	return firstErr
}

func (m *BackendManager) cloneBackends() map[string]Backend {
	out := make(map[string]Backend, len(m.backends))
	for k, v := range m.backends {
		out[k] = v
	}
	return out
}

// Publish runs the topic's publish filter chain and then dispatches to
// every backend enabled for publish on that topic, continuing past a
// failing backend (logging it) rather than aborting the fan-out.
func (m *BackendManager) Publish(env Envelope, meta map[string]string) error {
	m.mu.RLock()
	chain := m.filtersFor(env.Topic, m.pubFilterRules)
	names := m.enabledFor(env.Topic, m.pubBackendRules, m.defaultPubList)
	backends := m.cloneBackends()
	m.mu.RUnlock()

	var aggregateErr error
	terminal := func(e Envelope, _ map[string]string) {
		for _, name := range names {
			b, ok := backends[name]
			if !ok {
				continue
			}
			if err := b.Publish(e, e.Pkg, e.Pkg); err != nil {
				if m.log != nil {
					m.log.Warn("channel: backend publish failed",
						logger.String("backend", name), logger.String("topic", e.Topic), logger.Err(err))
				}
				if aggregateErr == nil {
					aggregateErr = fmt.Errorf("backend %q: %w", name, err)
				}
			}
		}
	}
	runChain(chain, env, meta, terminal)
	return aggregateErr
}

// enabledFor returns the first matching rule's backend list for topic,
// else the manager-wide default (every registered backend).
func (m *BackendManager) enabledFor(topic string, rules []topicBackendRule, def []string) []string {
	for _, r := range rules {
		if r.pattern.MatchString(topic) {
			return r.names
		}
	}
	return def
}

// filtersFor returns a copy of the first matching rule's filter chain for
// topic, or nil if none match (no filtering, straight to backend dispatch).
func (m *BackendManager) filtersFor(topic string, rules []topicFilterRule) []Filter {
	for _, r := range rules {
		if r.pattern.MatchString(topic) {
			return append([]Filter(nil), r.filters...)
		}
	}
	return nil
}

// SubscribeFilterChain runs topic's subscribe-side filter chain (if any)
// around deliver. Delivery paths (the local backend, any remote
// transport) route through this so a subscribe-side filter can inspect,
// short-circuit, or re-dispatch a delivery exactly the way a publish-side
// filter can.
func (m *BackendManager) SubscribeFilterChain(topic string, env Envelope, meta map[string]string, deliver func(Envelope, map[string]string)) {
	m.mu.RLock()
	chain := m.filtersFor(topic, m.subFilterRules)
	m.mu.RUnlock()
	runChain(chain, env, meta, deliver)
}

// runChain executes filters in list order, each explicitly invoking next;
// the chain terminator is terminal (f1 pre, f2 pre, backend, f2 post,
// f1 post for a [f1,f2] chain).
func runChain(chain []Filter, env Envelope, meta map[string]string, terminal func(Envelope, map[string]string)) {
	if len(chain) == 0 {
		terminal(env, meta)
		return
	}
	chain[0](env, meta, func(e Envelope, m map[string]string) {
		runChain(chain[1:], e, m, terminal)
	})
}
