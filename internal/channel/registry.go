// Package channel implements the publish/subscribe subsystem: a registry of
// publishers and subscribers keyed by (msg_type, topic, pkg, module), a
// backend contract with a zero-copy local backend, a backend manager that
// fans a publish out across enabled transports with filter chains, and
// per-module handle proxies.
package channel

import (
	"fmt"
	"sync"
)

// TopicInfo identifies one publish-type or subscribe entry.
type TopicInfo struct {
	MsgType        string
	TopicName      string
	PkgPath        string
	ModuleName     string
	MsgTypeSupport any
}

// Key is the four-part identity that must be unique per publish-type
// entry and per subscribe entry.
type Key struct {
	MsgType    string
	Topic      string
	Pkg        string
	ModuleName string
}

func keyOf(t TopicInfo) Key {
	return Key{MsgType: t.MsgType, Topic: t.TopicName, Pkg: t.PkgPath, ModuleName: t.ModuleName}
}

// PublishTypeWrapper is a registered publisher entry plus the set of
// serialization formats backends declare they need for this topic.
type PublishTypeWrapper struct {
	TopicInfo
	RequireCacheSerializationTypes map[string]struct{}
}

// SubscribeCallback is invoked with the delivered message and a
// done-callback the subscriber must eventually call.
type SubscribeCallback func(msg any, done func(error))

// SubscribeWrapper is a registered subscriber entry.
type SubscribeWrapper struct {
	TopicInfo
	RequireCacheSerializationTypes map[string]struct{}
	Callback                       SubscribeCallback
}

// msgTopicPkgKey is the coarser (msg_type, topic, pkg) grouping the local
// backend uses to find same-package subscribers fast.
type msgTopicPkgKey struct {
	MsgType string
	Topic   string
	Pkg     string
}

// Registry holds the two insert-once maps and their auxiliary indices.
// Writes only happen during Init; after Start it is read-only.
type Registry struct {
	mu sync.RWMutex

	publishTypeMap map[Key]*PublishTypeWrapper
	subscribeMap   map[Key]*SubscribeWrapper

	pubTopicIndex     map[string][]*PublishTypeWrapper
	subTopicIndex     map[string][]*SubscribeWrapper
	subMsgTopicPkgIdx map[msgTopicPkgKey]map[string]*SubscribeWrapper // module -> wrapper
}

func NewRegistry() *Registry {
	return &Registry{
		publishTypeMap:    make(map[Key]*PublishTypeWrapper),
		subscribeMap:      make(map[Key]*SubscribeWrapper),
		pubTopicIndex:     make(map[string][]*PublishTypeWrapper),
		subTopicIndex:     make(map[string][]*SubscribeWrapper),
		subMsgTopicPkgIdx: make(map[msgTopicPkgKey]map[string]*SubscribeWrapper),
	}
}

// RegisterPublishType rejects duplicate (msg_type, topic, pkg, module)
// entries, returning false rather than erroring. Callers are expected to
// treat false as a fatal Init-time misconfiguration.
func (r *Registry) RegisterPublishType(w *PublishTypeWrapper) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keyOf(w.TopicInfo)
	if _, exists := r.publishTypeMap[key]; exists {
		return false
	}
	r.publishTypeMap[key] = w
	r.pubTopicIndex[w.TopicName] = append(r.pubTopicIndex[w.TopicName], w)
	return true
}

// Subscribe rejects a duplicate key the same way RegisterPublishType does;
// distinct modules may share (msg_type, topic, pkg).
func (r *Registry) Subscribe(w *SubscribeWrapper) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keyOf(w.TopicInfo)
	if _, exists := r.subscribeMap[key]; exists {
		return false
	}
	r.subscribeMap[key] = w
	r.subTopicIndex[w.TopicName] = append(r.subTopicIndex[w.TopicName], w)

	mtp := msgTopicPkgKey{MsgType: w.MsgType, Topic: w.TopicName, Pkg: w.PkgPath}
	byModule, ok := r.subMsgTopicPkgIdx[mtp]
	if !ok {
		byModule = make(map[string]*SubscribeWrapper)
		r.subMsgTopicPkgIdx[mtp] = byModule
	}
	byModule[w.ModuleName] = w
	return true
}

// PublishType returns the registered publisher entry for key, or nil.
func (r *Registry) PublishType(key Key) *PublishTypeWrapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.publishTypeMap[key]
}

// SubscribersForTopic returns every subscriber registered for topic, in
// registration order.
func (r *Registry) SubscribersForTopic(topic string) []*SubscribeWrapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*SubscribeWrapper(nil), r.subTopicIndex[topic]...)
}

// PublishersForTopic returns every registered publisher entry for topic.
func (r *Registry) PublishersForTopic(topic string) []*PublishTypeWrapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*PublishTypeWrapper(nil), r.pubTopicIndex[topic]...)
}

// SamePackageSubscribers returns the module->subscriber map for
// (msgType, topic, pkg), used by the local backend to deliver by raw
// pointer without serialization.
func (r *Registry) SamePackageSubscribers(msgType, topic, pkg string) map[string]*SubscribeWrapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.subMsgTopicPkgIdx[msgTopicPkgKey{MsgType: msgType, Topic: topic, Pkg: pkg}]
	out := make(map[string]*SubscribeWrapper, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// CrossPackageSubscribers returns every subscriber for topic that is not
// in pkg, i.e. the cross-package set the local backend must serialize for.
func (r *Registry) CrossPackageSubscribers(topic, pkg string) []*SubscribeWrapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SubscribeWrapper
	for _, w := range r.subTopicIndex[topic] {
		if w.PkgPath != pkg {
			out = append(out, w)
		}
	}
	return out
}

// RequireFormat records that some backend needs serialization format for
// every publisher of topic already registered on it. The backend manager
// does not call it, so RequireCacheSerializationTypes stays empty unless
// a caller records a format here itself.
func (r *Registry) RequireFormat(topic, format string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.pubTopicIndex[topic] {
		if w.RequireCacheSerializationTypes == nil {
			w.RequireCacheSerializationTypes = make(map[string]struct{})
		}
		w.RequireCacheSerializationTypes[format] = struct{}{}
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.MsgType, k.Topic, k.Pkg, k.ModuleName)
}
