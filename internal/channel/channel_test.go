package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RejectsDuplicateEntries(t *testing.T) {
	reg := NewRegistry()
	w := &PublishTypeWrapper{TopicInfo: TopicInfo{MsgType: "t", TopicName: "topic", PkgPath: "pkgA", ModuleName: "modA"}}
	require.True(t, reg.RegisterPublishType(w))
	require.False(t, reg.RegisterPublishType(w))

	s := &SubscribeWrapper{TopicInfo: TopicInfo{MsgType: "t", TopicName: "topic", PkgPath: "pkgB", ModuleName: "modB"}, Callback: func(any, func(error)) {}}
	require.True(t, reg.Subscribe(s))
	require.False(t, reg.Subscribe(s))
}

func TestRegistry_SamePackageVsCrossPackage(t *testing.T) {
	reg := NewRegistry()
	reg.Subscribe(&SubscribeWrapper{TopicInfo: TopicInfo{MsgType: "t", TopicName: "topic", PkgPath: "A", ModuleName: "modA"}, Callback: func(any, func(error)) {}})
	reg.Subscribe(&SubscribeWrapper{TopicInfo: TopicInfo{MsgType: "t", TopicName: "topic", PkgPath: "B", ModuleName: "modB"}, Callback: func(any, func(error)) {}})

	same := reg.SamePackageSubscribers("t", "topic", "A")
	require.Len(t, same, 1)
	require.Contains(t, same, "modA")

	cross := reg.CrossPackageSubscribers("topic", "A")
	require.Len(t, cross, 1)
	require.Equal(t, "modB", cross[0].ModuleName)
}

// Publisher in package A, subscribers in A and B: A receives the exact
// pointer, B receives a deserialized copy of identical value. Exercised
// entirely through the module-facing HandleProxy/BackendManager funnel,
// the same path a real module's Publisher.Publish takes, rather than
// calling the backend directly.
func TestLocalBackend_SamePackageZeroCopyCrossPackageCopy(t *testing.T) {
	reg := NewRegistry()
	mgr := NewBackendManager(nil, reg)
	backend := NewLocalBackend(nil, nil)
	require.NoError(t, mgr.RegisterBackend(backend))

	hA := NewHandleProxy("modA", "A", reg, mgr, nil)
	hB := NewHandleProxy("modB", "B", reg, mgr, nil)

	var mu sync.Mutex
	var gotA, gotB any
	require.True(t, hA.GetSubscriber("topic").Subscribe("t", func(msg any, done func(error)) {
		mu.Lock()
		gotA = msg
		mu.Unlock()
		done(nil)
	}))
	require.True(t, hB.GetSubscriber("topic").Subscribe("t", func(msg any, done func(error)) {
		mu.Lock()
		gotB = msg
		mu.Unlock()
		done(nil)
	}))

	pub := hA.GetPublisher("topic")
	require.NoError(t, pub.Publish("t", []byte("hello"), nil))

	mu.Lock()
	defer mu.Unlock()

	envA, ok := gotA.(*Envelope)
	require.True(t, ok)
	require.Equal(t, "hello", string(envA.Payload))

	envB, ok := gotB.(Envelope)
	require.True(t, ok)
	require.Equal(t, "hello", string(envB.Payload))
	require.Equal(t, "topic", envB.Topic)
	// B's copy must not alias A's live pointer.
	require.NotSame(t, envA, &envB)
}

func TestEnvelope_MarshalUnmarshalRoundTrip(t *testing.T) {
	env := Envelope{Topic: "topic", MsgType: "t", Pkg: "pkg", Payload: []byte{1, 2, 3}}
	decoded, err := Unmarshal(env.Marshal())
	require.NoError(t, err)
	require.Equal(t, env, decoded)
}

// Filter chain ordering and short-circuit behavior.
func TestBackendManager_FilterChainOrderingAndShortCircuit(t *testing.T) {
	reg := NewRegistry()
	mgr := NewBackendManager(nil, reg)
	backend := NewLocalBackend(nil, nil)
	require.NoError(t, mgr.RegisterBackend(backend))

	var trace []string
	f1 := func(env Envelope, meta map[string]string, next func(Envelope, map[string]string)) {
		trace = append(trace, "f1-pre")
		next(env, meta)
		trace = append(trace, "f1-post")
	}
	f2 := func(env Envelope, meta map[string]string, next func(Envelope, map[string]string)) {
		trace = append(trace, "f2-pre")
		next(env, meta)
		trace = append(trace, "f2-post")
	}
	mgr.SetTopicFilters("topic", []Filter{f1, f2}, nil)

	require.NoError(t, mgr.Publish(Envelope{Topic: "topic", MsgType: "t", Pkg: "A"}, map[string]string{}))
	require.Equal(t, []string{"f1-pre", "f2-pre", "f2-post", "f1-post"}, trace)

	trace = nil
	shortCircuit := func(env Envelope, meta map[string]string, next func(Envelope, map[string]string)) {
		trace = append(trace, "blocked")
	}
	mgr.SetTopicFilters("topic2", []Filter{shortCircuit}, nil)
	require.NoError(t, mgr.Publish(Envelope{Topic: "topic2", MsgType: "t", Pkg: "A"}, map[string]string{}))
	require.Equal(t, []string{"blocked"}, trace)
}

func TestHandleProxy_RefusesNewTopicAfterStart(t *testing.T) {
	reg := NewRegistry()
	mgr := NewBackendManager(nil, reg)
	h := NewHandleProxy("modA", "pkgA", reg, mgr, nil)

	require.NotNil(t, h.GetPublisher("topic1"))
	h.MarkStarted()
	require.Nil(t, h.GetPublisher("topic2"))
	require.Nil(t, h.GetSubscriber("topic3"))
	// Previously created handles remain cached and usable.
	require.NotNil(t, h.GetPublisher("topic1"))
}

func TestBackendManager_MergeSubscribeContextToPublishContext(t *testing.T) {
	reg := NewRegistry()
	mgr := NewBackendManager(nil, reg)
	mgr.AddPassedContextMetaKeys("trace_id")

	sub := map[string]string{"trace_id": "abc", "other": "x"}
	pub := map[string]string{}
	mgr.MergeSubscribeContextToPublishContext(sub, pub)
	require.Equal(t, map[string]string{"trace_id": "abc"}, pub)
}
