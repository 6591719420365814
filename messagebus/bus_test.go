package messagebus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirehome/core"
	"github.com/wirehome/core/diagnostics"
)

func newTestBus(t *testing.T) *MessageBus {
	t.Helper()
	bus, err := New(&Config{HistorySize: 16, QueueCapacity: 4}, diagnostics.NewRegistry(nil), nil)
	require.NoError(t, err)
	return bus
}

// collector records pushed messages in delivery order.
type collector struct {
	mu       sync.Mutex
	messages []Message
}

func (c *collector) callback(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

func (c *collector) snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func TestPublishAssignsMonotonicTimestamps(t *testing.T) {
	bus := newTestBus(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(NewMessage("tick")))
	}
	history := bus.History(0)
	require.Len(t, history, 10)

	last := int64(0)
	for _, m := range history {
		ts := m.Timestamp()
		assert.GreaterOrEqual(t, ts, last)
		assert.NotZero(t, ts)
		last = ts
	}
}

func TestPublishDoesNotMutateCallerMessage(t *testing.T) {
	bus := newTestBus(t)
	m := NewMessage("x")
	require.NoError(t, bus.Publish(m))
	_, hasTimestamp := m[KeyTimestamp]
	assert.False(t, hasTimestamp)
}

func TestSubscriberOnlySeesMessagesAfterSubscription(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.Publish(NewMessage("early")))

	c := &collector{}
	_, err := bus.Subscribe(FilterList{{KeyType: "early"}}, c.callback)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(NewMessage("early")))
	messages := c.snapshot()
	require.Len(t, messages, 1)
}

func TestFilterMatching(t *testing.T) {
	bus := newTestBus(t)
	c := &collector{}
	_, err := bus.Subscribe(FilterList{{KeyType: "a", "component_uid": "lamp.1"}}, c.callback)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Message{KeyType: "a", "component_uid": "lamp.1"}))
	require.NoError(t, bus.Publish(Message{KeyType: "a", "component_uid": "lamp.2"}))
	require.NoError(t, bus.Publish(Message{KeyType: "b", "component_uid": "lamp.1"}))
	require.NoError(t, bus.Publish(Message{KeyType: "a"}))

	messages := c.snapshot()
	require.Len(t, messages, 1)
	assert.Equal(t, "lamp.1", messages[0]["component_uid"])
}

func TestFilterDisjunction(t *testing.T) {
	bus := newTestBus(t)
	c := &collector{}
	_, err := bus.Subscribe(FilterList{{KeyType: "a"}, {KeyType: "b"}}, c.callback)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(NewMessage("a")))
	require.NoError(t, bus.Publish(NewMessage("b")))
	require.NoError(t, bus.Publish(NewMessage("c")))

	assert.Len(t, c.snapshot(), 2)
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	bus := newTestBus(t)
	c := &collector{}
	_, err := bus.Subscribe(FilterList{{}}, c.callback)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(NewMessage("anything")))
	require.NoError(t, bus.Publish(Message{"no_type": true}))
	assert.Len(t, c.snapshot(), 2)
}

func TestSubscribersObservePublishOrder(t *testing.T) {
	bus := newTestBus(t)
	c1 := &collector{}
	c2 := &collector{}
	_, err := bus.Subscribe(FilterList{{}}, c1.callback)
	require.NoError(t, err)
	_, err = bus.Subscribe(FilterList{{}}, c2.callback)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(Message{KeyType: "seq", "n": i}))
	}

	for _, c := range []*collector{c1, c2} {
		messages := c.snapshot()
		require.Len(t, messages, 20)
		for i, m := range messages {
			assert.EqualValues(t, i, m["n"])
		}
	}
}

func TestPanickingSubscriberDoesNotStopDispatch(t *testing.T) {
	bus := newTestBus(t)
	_, err := bus.Subscribe(FilterList{{}}, func(Message) { panic("boom") })
	require.NoError(t, err)
	c := &collector{}
	_, err = bus.Subscribe(FilterList{{}}, c.callback)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(NewMessage("x")))
	assert.Len(t, c.snapshot(), 1)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	bus := newTestBus(t)
	uid := bus.SubscribeQueue(FilterList{{KeyType: "seq"}}, 4)

	for i := 0; i < 7; i++ {
		require.NoError(t, bus.Publish(Message{KeyType: "seq", "n": i}))
	}

	length, overflow, err := bus.QueueStats(uid)
	require.NoError(t, err)
	assert.Equal(t, 4, length)
	assert.Equal(t, uint64(3), overflow)

	messages, err := bus.DrainQueue(uid)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	// The oldest three were dropped; 3..6 remain in FIFO order.
	for i, m := range messages {
		assert.EqualValues(t, i+3, m["n"])
	}
}

func TestWaitAsyncReceivesConcurrentPublish(t *testing.T) {
	bus := newTestBus(t)

	done := make(chan []Message, 1)
	go func() {
		done <- bus.WaitAsync(context.Background(), FilterList{{KeyType: "setting_changed"}}, 0, 5*time.Second)
	}()

	// Give the waiter a moment to register its subscription.
	require.Eventually(t, func() bool {
		return bus.Stats().SubscriptionCount == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, bus.Publish(Message{KeyType: "setting_changed", "new_value": 75}))

	select {
	case messages := <-done:
		require.Len(t, messages, 1)
		assert.EqualValues(t, 75, messages[0]["new_value"])
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after matching publish")
	}
	assert.Equal(t, 0, bus.Stats().SubscriptionCount)
}

func TestWaitAsyncTimesOutEmpty(t *testing.T) {
	bus := newTestBus(t)

	start := time.Now()
	messages := bus.WaitAsync(context.Background(), FilterList{{KeyType: "nothing.ever"}}, 0, time.Second)
	elapsed := time.Since(start)

	assert.Empty(t, messages)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestWaitAsyncSeedsFromHistory(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.Publish(Message{KeyType: "seed", "n": 1}))
	since := bus.History(0)[0].Timestamp()
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, bus.Publish(Message{KeyType: "seed", "n": 2}))
	require.NoError(t, bus.Publish(Message{KeyType: "other"}))

	messages := bus.WaitAsync(context.Background(), FilterList{{KeyType: "seed"}}, since, 100*time.Millisecond)
	require.Len(t, messages, 1)
	assert.EqualValues(t, 2, messages[0]["n"])
}

func TestWaitAsyncReturnsOnContextCancel(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan []Message, 1)
	go func() {
		done <- bus.WaitAsync(ctx, FilterList{{KeyType: "never"}}, 0, time.Minute)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case messages := <-done:
		assert.Empty(t, messages)
	case <-time.After(time.Second):
		t.Fatal("wait did not return on cancellation")
	}
}

func TestUnsubscribeWakesWaiter(t *testing.T) {
	bus := newTestBus(t)
	uid := bus.SubscribeQueue(FilterList{{KeyType: "x"}}, 4)

	require.NoError(t, bus.Unsubscribe(uid))
	assert.ErrorIs(t, bus.Unsubscribe(uid), ErrSubscriptionNotFound)

	_, _, err := bus.QueueStats(uid)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestHistoryRingEvictsOldest(t *testing.T) {
	bus, err := New(&Config{HistorySize: 4, QueueCapacity: 4}, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(Message{KeyType: "h", "n": i}))
	}
	history := bus.History(0)
	require.Len(t, history, 4)
	for i, m := range history {
		assert.EqualValues(t, i+6, m["n"])
	}

	newest := bus.History(2)
	require.Len(t, newest, 2)
	assert.EqualValues(t, 9, newest[1]["n"])
}

func TestPruneRemovesIdleLongPollSubscriptions(t *testing.T) {
	bus, err := New(&Config{HistorySize: 4, QueueCapacity: 4, IdleTimeout: wirehome.Duration(time.Millisecond)}, nil, nil)
	require.NoError(t, err)

	uid := bus.SubscribeQueue(FilterList{{KeyType: "x"}}, 4)
	c := &collector{}
	_, err = bus.Subscribe(FilterList{{}}, c.callback)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	bus.pruneIdleSubscriptions()

	_, _, err = bus.QueueStats(uid)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	// Push subscriptions are never expired.
	assert.Equal(t, 1, bus.Stats().SubscriptionCount)
}

func TestPruneSparesActiveWaiter(t *testing.T) {
	bus, err := New(&Config{HistorySize: 4, QueueCapacity: 4, IdleTimeout: wirehome.Duration(time.Millisecond)}, nil, nil)
	require.NoError(t, err)

	done := make(chan []Message, 1)
	go func() {
		done <- bus.WaitAsync(context.Background(), FilterList{{KeyType: "late"}}, 0, 2*time.Second)
	}()

	// Let the waiter register, then sweep well past the idle timeout.
	time.Sleep(50 * time.Millisecond)
	bus.pruneIdleSubscriptions()
	assert.Equal(t, 1, bus.Stats().SubscriptionCount)

	require.NoError(t, bus.Publish(Message{KeyType: "late"}))
	select {
	case messages := <-done:
		require.Len(t, messages, 1)
		assert.Equal(t, "late", messages[0].Type())
	case <-time.After(time.Second):
		t.Fatal("waiter never received the message")
	}
}

func TestAwaitDrainDeliversQueuedMessages(t *testing.T) {
	bus := newTestBus(t)
	uid := bus.SubscribeQueue(FilterList{{KeyType: "q"}}, 4)

	require.NoError(t, bus.Publish(Message{KeyType: "q", "n": 1}))
	messages, err := bus.AwaitDrain(context.Background(), uid, time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// Empty queue: blocks until a publish wakes it.
	done := make(chan []Message, 1)
	go func() {
		msgs, _ := bus.AwaitDrain(context.Background(), uid, 2*time.Second)
		done <- msgs
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish(Message{KeyType: "q", "n": 2}))

	select {
	case messages := <-done:
		require.Len(t, messages, 1)
		assert.EqualValues(t, 2, messages[0]["n"])
	case <-time.After(time.Second):
		t.Fatal("drain never woke")
	}
}

func TestAwaitDrainExemptFromPruning(t *testing.T) {
	bus, err := New(&Config{HistorySize: 4, QueueCapacity: 4, IdleTimeout: wirehome.Duration(time.Millisecond)}, nil, nil)
	require.NoError(t, err)
	uid := bus.SubscribeQueue(FilterList{{KeyType: "q"}}, 4)

	errs := make(chan error, 1)
	go func() {
		_, err := bus.AwaitDrain(context.Background(), uid, 500*time.Millisecond)
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	bus.pruneIdleSubscriptions()
	assert.Equal(t, 1, bus.Stats().SubscriptionCount)
	require.NoError(t, <-errs)

	// With the waiter gone the subscription becomes prunable again.
	time.Sleep(5 * time.Millisecond)
	bus.pruneIdleSubscriptions()
	_, err = bus.AwaitDrain(context.Background(), uid, time.Millisecond)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestConcurrentPublishOrderingPerSubscriber(t *testing.T) {
	bus, err := New(&Config{HistorySize: 1024, QueueCapacity: 1024}, nil, nil)
	require.NoError(t, err)

	uid := bus.SubscribeQueue(FilterList{{}}, 1024)

	var wg sync.WaitGroup
	publishers := 4
	perPublisher := 50
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				_ = bus.Publish(Message{KeyType: "storm", "publisher": fmt.Sprintf("p%d", p), "n": i})
			}
		}(p)
	}
	wg.Wait()

	messages, err := bus.DrainQueue(uid)
	require.NoError(t, err)
	require.Len(t, messages, publishers*perPublisher)

	// Per-publisher FIFO must hold even under interleaving.
	next := make(map[string]int)
	for _, m := range messages {
		p := m["publisher"].(string)
		assert.EqualValues(t, next[p], m["n"], "publisher %s out of order", p)
		next[p]++
	}
}
