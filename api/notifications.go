package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wirehome/core"
	"github.com/wirehome/core/messagebus"
)

// EventNotificationPublished is emitted on the bus for every new
// notification.
const EventNotificationPublished = "notifications.event.published"

// maxNotifications bounds the retained list; the oldest entries are evicted.
const maxNotifications = 100

// Notification is a user-facing message surfaced by the hub.
type Notification struct {
	UID       string         `json:"uid"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   wirehome.Value `json:"payload,omitempty"`
}

// Notifications is the in-memory notification list exposed over HTTP.
type Notifications struct {
	mu      sync.Mutex
	entries map[string]Notification
	bus     *messagebus.MessageBus
	logger  wirehome.Logger
}

// NewNotifications creates an empty notification list.
func NewNotifications(bus *messagebus.MessageBus, logger wirehome.Logger) *Notifications {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	return &Notifications{
		entries: make(map[string]Notification),
		bus:     bus,
		logger:  logger,
	}
}

// Publish adds a notification and announces it on the bus.
func (n *Notifications) Publish(notificationType, message string, payload wirehome.Value) Notification {
	entry := Notification{
		UID:       uuid.New().String(),
		Type:      notificationType,
		Message:   message,
		Timestamp: time.Now(),
		Payload:   wirehome.CloneValue(payload),
	}

	n.mu.Lock()
	n.entries[entry.UID] = entry
	if len(n.entries) > maxNotifications {
		n.evictOldestLocked()
	}
	n.mu.Unlock()

	if n.bus != nil {
		if err := n.bus.Publish(messagebus.Message{
			messagebus.KeyType: EventNotificationPublished,
			"notification_uid": entry.UID,
			"notification":     entry.Message,
		}); err != nil {
			n.logger.Error("publishing notification event failed", "error", err)
		}
	}
	return entry
}

// List returns all notifications, oldest first.
func (n *Notifications) List() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Notification, 0, len(n.entries))
	for _, entry := range n.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Delete removes a notification by uid.
func (n *Notifications) Delete(uid string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.entries[uid]; !ok {
		return ErrNotificationNotFound
	}
	delete(n.entries, uid)
	return nil
}

func (n *Notifications) evictOldestLocked() {
	var oldestUID string
	var oldest time.Time
	for uid, entry := range n.entries {
		if oldestUID == "" || entry.Timestamp.Before(oldest) {
			oldestUID = uid
			oldest = entry.Timestamp
		}
	}
	if oldestUID != "" {
		delete(n.entries, oldestUID)
	}
}
