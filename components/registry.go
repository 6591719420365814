// Package components implements the component registry: the authoritative
// in-memory table of device state. Settings are persisted on every committed
// change; status values are live readings and never touch disk. Every
// observable mutation publishes exactly one bus event, after the in-memory
// state changed and the storage write succeeded.
package components

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wirehome/core"
	"github.com/wirehome/core/messagebus"
	"github.com/wirehome/core/storage"
)

// StorageCategory is the directory holding component state on disk.
const StorageCategory = "Components"

// Registry owns all registered components. A single mutex protects the table
// and the per-component maps; write paths hold it across state update,
// storage write and bus publish so observers never see out-of-order events.
type Registry struct {
	mu         sync.Mutex
	components map[string]*component

	store  *storage.Store
	bus    *messagebus.MessageBus
	logger wirehome.Logger
}

// NewRegistry creates an empty component registry.
func NewRegistry(store *storage.Store, bus *messagebus.MessageBus, logger wirehome.Logger) *Registry {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	return &Registry{
		components: make(map[string]*component),
		store:      store,
		bus:        bus,
		logger:     logger,
	}
}

// InitializeFromStorage loads every component found below Components/ from
// disk. Failures are logged and leave the affected component absent.
func (r *Registry) InitializeFromStorage() error {
	uids, err := r.store.EnumerateDirectories("*", StorageCategory)
	if err != nil {
		return fmt.Errorf("enumerate components: %w", err)
	}
	for _, uid := range uids {
		if err := r.InitializeComponent(uid); err != nil {
			r.logger.Error("initializing component failed", "component", uid, "error", err)
		}
	}
	r.logger.Info("component registry initialized", "components", len(uids))
	return nil
}

// GetComponentUids returns all registered component uids, sorted.
func (r *Registry) GetComponentUids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	uids := make([]string, 0, len(r.components))
	for uid := range r.components {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// GetComponents returns snapshots of all registered components, sorted by uid.
func (r *Registry) GetComponents() []*Component {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Component, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// TryGetComponent returns a snapshot of the component, if registered.
func (r *Registry) TryGetComponent(uid string) (*Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return nil, false
	}
	return c.snapshot(), true
}

// GetComponent returns a snapshot of the component or ErrComponentNotFound.
func (r *Registry) GetComponent(uid string) (*Component, error) {
	if uid == "" {
		return nil, ErrEmptyUID
	}
	c, ok := r.TryGetComponent(uid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}
	return c, nil
}

// RegisterComponent creates or overwrites a component with the given
// configuration, persists it and publishes component_registered. Settings and
// status start empty.
func (r *Registry) RegisterComponent(uid string, configuration map[string]wirehome.Value) error {
	if uid == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.components[uid]
	entity := &component{
		uid:           uid,
		settings:      make(map[string]wirehome.Value),
		status:        make(map[string]wirehome.Value),
		configuration: wirehome.CloneValueMap(configuration),
		enabled:       true,
	}
	r.components[uid] = entity

	if err := r.store.Write(entity.configuration, StorageCategory, uid, storage.ConfigurationFilename); err != nil {
		r.rollback(uid, prev)
		return fmt.Errorf("persist component configuration: %w", err)
	}
	if err := r.store.Write(entity.settings, StorageCategory, uid, storage.SettingsFilename); err != nil {
		r.rollback(uid, prev)
		return fmt.Errorf("persist component settings: %w", err)
	}

	r.publish(messagebus.Message{
		messagebus.KeyType: EventComponentRegistered,
		KeyComponentUID:    uid,
	})
	return nil
}

// DeleteComponent removes the component and its on-disk directory and
// publishes component_deleted.
func (r *Registry) DeleteComponent(uid string) error {
	if uid == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.components[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}
	delete(r.components, uid)

	if err := r.store.DeleteDirectory(StorageCategory, uid); err != nil {
		r.components[uid] = prev
		return fmt.Errorf("delete component directory: %w", err)
	}

	r.publish(messagebus.Message{
		messagebus.KeyType: EventComponentDeleted,
		KeyComponentUID:    uid,
	})
	return nil
}

// InitializeComponent reads the configuration and settings of a component
// from storage and creates the in-memory entity. Persisted settings are
// merged into the fresh entity. Publishes initialized on success.
func (r *Registry) InitializeComponent(uid string) error {
	if uid == "" {
		return ErrEmptyUID
	}

	configuration := make(map[string]wirehome.Value)
	if _, err := r.store.TryRead(&configuration, StorageCategory, uid, storage.ConfigurationFilename); err != nil {
		return fmt.Errorf("read component configuration: %w", err)
	}
	settings := make(map[string]wirehome.Value)
	if _, err := r.store.TryRead(&settings, StorageCategory, uid, storage.SettingsFilename); err != nil {
		return fmt.Errorf("read component settings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.components[uid] = &component{
		uid:           uid,
		settings:      settings,
		status:        make(map[string]wirehome.Value),
		configuration: configuration,
		enabled:       true,
	}

	r.publish(messagebus.Message{
		messagebus.KeyType: EventComponentInitialized,
		KeyComponentUID:    uid,
	})
	return nil
}

// GetSetting returns the value of a component setting, or nil when the key is
// not set.
func (r *Registry) GetSetting(uid, settingUID string) (wirehome.Value, error) {
	if uid == "" || settingUID == "" {
		return nil, ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}
	return wirehome.CloneValue(c.settings[settingUID]), nil
}

// SetSetting updates a component setting. Writes that leave the value deeply
// equal are coalesced: no storage write, no event. Otherwise the settings
// file is rewritten and setting_changed carries both old and new value.
func (r *Registry) SetSetting(uid, settingUID string, value wirehome.Value) error {
	if uid == "" || settingUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}

	oldValue, had := c.settings[settingUID]
	if (had || value == nil) && wirehome.ValuesEqual(oldValue, value) {
		return nil
	}

	c.settings[settingUID] = wirehome.CloneValue(value)
	if err := r.store.Write(c.settings, StorageCategory, uid, storage.SettingsFilename); err != nil {
		if had {
			c.settings[settingUID] = oldValue
		} else {
			delete(c.settings, settingUID)
		}
		return fmt.Errorf("persist component settings: %w", err)
	}

	r.publish(messagebus.Message{
		messagebus.KeyType: EventSettingChanged,
		KeyComponentUID:    uid,
		KeySettingUID:      settingUID,
		KeyOldValue:        oldValue,
		KeyNewValue:        wirehome.CloneValue(value),
	})
	return nil
}

// RemoveSetting deletes a component setting. Removing an absent key is a
// no-op; otherwise the change is persisted and setting_changed is published
// with a null new value.
func (r *Registry) RemoveSetting(uid, settingUID string) error {
	if uid == "" || settingUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}

	oldValue, had := c.settings[settingUID]
	if !had {
		return nil
	}

	delete(c.settings, settingUID)
	if err := r.store.Write(c.settings, StorageCategory, uid, storage.SettingsFilename); err != nil {
		c.settings[settingUID] = oldValue
		return fmt.Errorf("persist component settings: %w", err)
	}

	r.publish(messagebus.Message{
		messagebus.KeyType: EventSettingChanged,
		KeyComponentUID:    uid,
		KeySettingUID:      settingUID,
		KeyOldValue:        oldValue,
		KeyNewValue:        nil,
	})
	return nil
}

// GetStatus returns the value of a component status slot, or nil when unset.
func (r *Registry) GetStatus(uid, statusUID string) (wirehome.Value, error) {
	if uid == "" || statusUID == "" {
		return nil, ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}
	return wirehome.CloneValue(c.status[statusUID]), nil
}

// SetStatus updates a live status slot. Status is never persisted. Equal
// values are coalesced; changes publish status_changed.
func (r *Registry) SetStatus(uid, statusUID string, value wirehome.Value) error {
	if uid == "" || statusUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}

	oldValue, had := c.status[statusUID]
	if (had || value == nil) && wirehome.ValuesEqual(oldValue, value) {
		return nil
	}
	c.status[statusUID] = wirehome.CloneValue(value)

	r.publish(messagebus.Message{
		messagebus.KeyType: EventStatusChanged,
		KeyComponentUID:    uid,
		KeyStatusUID:       statusUID,
		KeyOldValue:        oldValue,
		KeyNewValue:        wirehome.CloneValue(value),
	})
	return nil
}

// RemoveStatus deletes a status slot. Absent keys are a no-op.
func (r *Registry) RemoveStatus(uid, statusUID string) error {
	if uid == "" || statusUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}

	oldValue, had := c.status[statusUID]
	if !had {
		return nil
	}
	delete(c.status, statusUID)

	r.publish(messagebus.Message{
		messagebus.KeyType: EventStatusChanged,
		KeyComponentUID:    uid,
		KeyStatusUID:       statusUID,
		KeyOldValue:        oldValue,
		KeyNewValue:        nil,
	})
	return nil
}

// EnableComponent marks the component as logically enabled. Already enabled
// components are a no-op.
func (r *Registry) EnableComponent(uid string) error {
	return r.setEnabled(uid, true, EventComponentEnabled)
}

// DisableComponent marks the component as logically disabled.
func (r *Registry) DisableComponent(uid string) error {
	return r.setEnabled(uid, false, EventComponentDisabled)
}

func (r *Registry) setEnabled(uid string, enabled bool, eventType string) error {
	if uid == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, uid)
	}
	if c.enabled == enabled {
		return nil
	}
	c.enabled = enabled

	r.publish(messagebus.Message{
		messagebus.KeyType: eventType,
		KeyComponentUID:    uid,
	})
	return nil
}

// rollback restores the table entry to its previous value.
func (r *Registry) rollback(uid string, prev *component) {
	if prev == nil {
		delete(r.components, uid)
		return
	}
	r.components[uid] = prev
}

func (r *Registry) publish(m messagebus.Message) {
	if err := r.bus.Publish(m); err != nil {
		r.logger.Error("publishing registry event failed", "type", m.Type(), "error", err)
	}
}
