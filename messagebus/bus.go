// Package messagebus implements the in-process event router of the hub.
// Subscribers register filters (required key/value equalities); publishers
// never block: push subscriptions are invoked after dispatch bookkeeping,
// long-poll subscriptions buffer into bounded queues that drop their oldest
// entry on overflow. A bounded history ring supports catching up on messages
// missed since a known timestamp.
package messagebus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/wirehome/core"
	"github.com/wirehome/core/diagnostics"
)

// Callback handles a matched message on a push subscription. It runs on the
// publisher's goroutine; panics are recovered and logged.
type Callback func(Message)

// subscription is a registered filter with either a callback (push) or a
// bounded queue (long-poll).
type subscription struct {
	uid          string
	filters      FilterList
	callback     Callback
	queue        *messageQueue
	lastActivity time.Time

	// waiting marks a long-poll subscription with a blocked waiter attached.
	// The idle sweeper only expires subscriptions nobody is waiting on.
	// Guarded by the bus mutex.
	waiting bool
}

func (s *subscription) isLongPoll() bool {
	return s.queue != nil
}

// Stats is a point-in-time snapshot of bus internals.
type Stats struct {
	SubscriptionCount int    `json:"subscriptionCount"`
	HistoryLength     int    `json:"historyLength"`
	PublishedRate     uint64 `json:"publishedRate"`
	DroppedRate       uint64 `json:"droppedRate"`
}

// MessageBus routes messages between hub subsystems.
type MessageBus struct {
	mu            sync.Mutex
	subscriptions map[string]*subscription
	history       *historyRing
	lastTimestamp int64

	config    *Config
	logger    wirehome.Logger
	published *diagnostics.OperationsPerSecondCounter
	dropped   *diagnostics.OperationsPerSecondCounter
	cron      *cron.Cron
}

// New creates a message bus. diag may be nil; OPS accounting is skipped then.
func New(config *Config, diag *diagnostics.Registry, logger wirehome.Logger) (*MessageBus, error) {
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate message bus config: %w", err)
	}
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	b := &MessageBus{
		subscriptions: make(map[string]*subscription),
		history:       newHistoryRing(config.HistorySize),
		config:        config,
		logger:        logger,
	}
	if diag != nil {
		b.published = diag.CreateOperationsPerSecondCounter(CounterMessagesPublished)
		b.dropped = diag.CreateOperationsPerSecondCounter(CounterMessagesDropped)
	}
	return b, nil
}

// Start launches the idle-subscription sweeper. It runs until the context is
// cancelled.
func (b *MessageBus) Start(ctx context.Context) error {
	b.cron = cron.New()
	if _, err := b.cron.AddFunc(fmt.Sprintf("@every %s", b.config.PruneInterval), b.pruneIdleSubscriptions); err != nil {
		return fmt.Errorf("schedule subscription sweeper: %w", err)
	}
	b.cron.Start()
	go func() {
		<-ctx.Done()
		b.cron.Stop()
	}()
	return nil
}

// Publish assigns a timestamp, stores the message in the history ring and
// dispatches it to all matching subscriptions. Push callbacks run after the
// bus lock is released, in the order recorded while locked.
func (b *MessageBus) Publish(m Message) error {
	if m == nil {
		return ErrNilMessage
	}
	msg := Message(wirehome.CloneValueMap(m))

	b.mu.Lock()
	if _, ok := msg[KeyTimestamp]; !ok {
		ts := time.Now().UnixMilli()
		if ts < b.lastTimestamp {
			ts = b.lastTimestamp
		}
		b.lastTimestamp = ts
		msg[KeyTimestamp] = ts
	} else if ts := msg.Timestamp(); ts > b.lastTimestamp {
		b.lastTimestamp = ts
	}

	b.history.append(msg)

	now := time.Now()
	var pushTargets []*subscription
	for _, sub := range b.subscriptions {
		if !sub.filters.Matches(msg) {
			continue
		}
		if sub.isLongPoll() {
			if sub.queue.enqueue(msg) && b.dropped != nil {
				b.dropped.Increment()
			}
			sub.lastActivity = now
			continue
		}
		pushTargets = append(pushTargets, sub)
	}
	b.mu.Unlock()

	for _, sub := range pushTargets {
		b.invoke(sub, msg)
	}
	if b.published != nil {
		b.published.Increment()
	}
	return nil
}

// invoke runs a push callback, containing panics so one failing subscriber
// never prevents dispatch to the others.
func (b *MessageBus) invoke(sub *subscription, m Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message subscriber panicked", "subscription", sub.uid, "type", m.Type(), "error", r)
		}
	}()
	sub.callback(m)
}

// Subscribe registers a push subscription and returns its uid.
func (b *MessageBus) Subscribe(filters FilterList, callback Callback) (string, error) {
	if callback == nil {
		return "", ErrNilCallback
	}
	sub := &subscription{
		uid:          uuid.New().String(),
		filters:      filters,
		callback:     callback,
		lastActivity: time.Now(),
	}
	b.mu.Lock()
	b.subscriptions[sub.uid] = sub
	b.mu.Unlock()
	return sub.uid, nil
}

// SubscribeQueue registers a long-poll subscription with a fresh bounded
// queue and returns its uid. capacity <= 0 uses the configured default.
func (b *MessageBus) SubscribeQueue(filters FilterList, capacity int) string {
	if capacity <= 0 {
		capacity = b.config.QueueCapacity
	}
	sub := &subscription{
		uid:          uuid.New().String(),
		filters:      filters,
		queue:        newMessageQueue(capacity),
		lastActivity: time.Now(),
	}
	b.mu.Lock()
	b.subscriptions[sub.uid] = sub
	b.mu.Unlock()
	return sub.uid
}

// Unsubscribe removes a subscription. A pending waiter on a long-poll
// subscription is woken and returns empty. Unknown uids return
// ErrSubscriptionNotFound.
func (b *MessageBus) Unsubscribe(uid string) error {
	b.mu.Lock()
	sub, ok := b.subscriptions[uid]
	if ok {
		delete(b.subscriptions, uid)
	}
	b.mu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	if sub.isLongPoll() {
		sub.queue.close()
	}
	return nil
}

// WaitAsync creates an ephemeral long-poll subscription for the filter
// disjunction, optionally seeds it with history messages newer than
// sinceTimestamp (unix milliseconds; 0 disables seeding), and blocks until a
// matching message arrives, the timeout elapses or the context is cancelled.
// The subscription is removed on return.
func (b *MessageBus) WaitAsync(ctx context.Context, filters FilterList, sinceTimestamp int64, timeout time.Duration) []Message {
	if timeout <= 0 {
		timeout = b.config.WaitTimeout.Std()
	}

	sub := &subscription{
		uid:          uuid.New().String(),
		filters:      filters,
		queue:        newMessageQueue(b.config.QueueCapacity),
		lastActivity: time.Now(),
		waiting:      true,
	}

	// Subscription insert and history seeding happen under one lock
	// acquisition so no concurrently published message is observed twice.
	b.mu.Lock()
	b.subscriptions[sub.uid] = sub
	if sinceTimestamp > 0 {
		for _, m := range b.history.snapshot(0) {
			if m.Timestamp() > sinceTimestamp && filters.Matches(m) {
				sub.queue.enqueue(m)
			}
		}
	}
	b.mu.Unlock()
	defer func() {
		if err := b.Unsubscribe(sub.uid); err != nil {
			// Already removed by the sweeper.
			b.logger.Debug("wait subscription already removed", "subscription", sub.uid)
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msgs := sub.queue.drain(); len(msgs) > 0 {
			return msgs
		}
		if sub.queue.closed() {
			return nil
		}
		select {
		case <-sub.queue.wake:
		case <-timer.C:
			return sub.queue.drain()
		case <-ctx.Done():
			return sub.queue.drain()
		}
	}
}

// History returns the retained messages oldest first. A positive limit
// restricts the result to the newest limit messages.
func (b *MessageBus) History(limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.snapshot(limit)
}

// QueueStats reports the queue length and overflow count of a long-poll
// subscription.
func (b *MessageBus) QueueStats(uid string) (length int, overflow uint64, err error) {
	b.mu.Lock()
	sub, ok := b.subscriptions[uid]
	b.mu.Unlock()

	if !ok || !sub.isLongPoll() {
		return 0, 0, ErrSubscriptionNotFound
	}
	return sub.queue.length(), sub.queue.overflowCount(), nil
}

// DrainQueue removes and returns the pending messages of a long-poll
// subscription, refreshing its idle clock.
func (b *MessageBus) DrainQueue(uid string) ([]Message, error) {
	b.mu.Lock()
	sub, ok := b.subscriptions[uid]
	if ok {
		sub.lastActivity = time.Now()
	}
	b.mu.Unlock()

	if !ok || !sub.isLongPoll() {
		return nil, ErrSubscriptionNotFound
	}
	return sub.queue.drain(), nil
}

// AwaitDrain blocks until the long-poll subscription has pending messages and
// drains them. It returns an empty slice when the timeout elapses or the
// context is cancelled first; timeout <= 0 uses the configured default. While
// a waiter is attached the subscription is exempt from idle expiry. A removed
// or unknown subscription returns ErrSubscriptionNotFound.
func (b *MessageBus) AwaitDrain(ctx context.Context, uid string, timeout time.Duration) ([]Message, error) {
	b.mu.Lock()
	sub, ok := b.subscriptions[uid]
	if ok && sub.isLongPoll() {
		sub.waiting = true
		sub.lastActivity = time.Now()
	}
	b.mu.Unlock()

	if !ok || !sub.isLongPoll() {
		return nil, ErrSubscriptionNotFound
	}
	defer func() {
		b.mu.Lock()
		sub.waiting = false
		sub.lastActivity = time.Now()
		b.mu.Unlock()
	}()

	if timeout <= 0 {
		timeout = b.config.WaitTimeout.Std()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msgs := sub.queue.drain(); len(msgs) > 0 {
			return msgs, nil
		}
		if sub.queue.closed() {
			return nil, ErrSubscriptionNotFound
		}
		select {
		case <-sub.queue.wake:
		case <-timer.C:
			return sub.queue.drain(), nil
		case <-ctx.Done():
			return sub.queue.drain(), nil
		}
	}
}

// Stats returns a snapshot of bus internals.
func (b *MessageBus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		SubscriptionCount: len(b.subscriptions),
		HistoryLength:     b.history.length(),
	}
	if b.published != nil {
		s.PublishedRate = b.published.Rate()
	}
	if b.dropped != nil {
		s.DroppedRate = b.dropped.Rate()
	}
	return s
}

// pruneIdleSubscriptions removes long-poll subscriptions whose queues have
// been inactive beyond the configured idle timeout. Subscriptions with a
// blocked waiter attached are never idle: their wait deadline is the caller's
// to enforce.
func (b *MessageBus) pruneIdleSubscriptions() {
	cutoff := time.Now().Add(-b.config.IdleTimeout.Std())

	b.mu.Lock()
	var expired []*subscription
	for uid, sub := range b.subscriptions {
		if sub.isLongPoll() && !sub.waiting && sub.lastActivity.Before(cutoff) {
			expired = append(expired, sub)
			delete(b.subscriptions, uid)
		}
	}
	b.mu.Unlock()

	for _, sub := range expired {
		sub.queue.close()
	}
	if len(expired) > 0 {
		b.logger.Debug("expired idle long-poll subscriptions", "count", len(expired))
	}
}
