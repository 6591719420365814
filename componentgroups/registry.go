// Package componentgroups implements the component group registry: groups of
// components and macros joined by associations that carry their own settings.
// Any committed mutation persists the whole group, reconciling stale
// association directories on disk, and publishes exactly one bus event.
package componentgroups

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wirehome/core"
	"github.com/wirehome/core/messagebus"
	"github.com/wirehome/core/storage"
)

// Storage layout below the data directory.
const (
	StorageCategory       = "ComponentGroups"
	componentsSubCategory = "Components"
	macrosSubCategory     = "Macros"
)

// Registry owns all registered component groups under a single mutex.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*componentGroup

	store  *storage.Store
	bus    *messagebus.MessageBus
	logger wirehome.Logger
}

// NewRegistry creates an empty component group registry.
func NewRegistry(store *storage.Store, bus *messagebus.MessageBus, logger wirehome.Logger) *Registry {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	return &Registry{
		groups: make(map[string]*componentGroup),
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// InitializeFromStorage loads every group found below ComponentGroups/.
// Failures are logged and leave the affected group absent.
func (r *Registry) InitializeFromStorage() error {
	uids, err := r.store.EnumerateDirectories("*", StorageCategory)
	if err != nil {
		return fmt.Errorf("enumerate component groups: %w", err)
	}
	for _, uid := range uids {
		if err := r.InitializeComponentGroup(uid); err != nil {
			r.logger.Error("initializing component group failed", "component_group", uid, "error", err)
		}
	}
	r.logger.Info("component group registry initialized", "component_groups", len(uids))
	return nil
}

// GetComponentGroupUids returns all registered group uids, sorted.
func (r *Registry) GetComponentGroupUids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	uids := make([]string, 0, len(r.groups))
	for uid := range r.groups {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// GetComponentGroups returns snapshots of all groups, sorted by uid.
func (r *Registry) GetComponentGroups() []*ComponentGroup {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ComponentGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// TryGetComponentGroup returns a snapshot of the group, if registered.
func (r *Registry) TryGetComponentGroup(uid string) (*ComponentGroup, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[uid]
	if !ok {
		return nil, false
	}
	return g.snapshot(), true
}

// GetComponentGroup returns a snapshot or ErrComponentGroupNotFound.
func (r *Registry) GetComponentGroup(uid string) (*ComponentGroup, error) {
	if uid == "" {
		return nil, ErrEmptyUID
	}
	g, ok := r.TryGetComponentGroup(uid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentGroupNotFound, uid)
	}
	return g, nil
}

// RegisterComponentGroup creates or overwrites a group, persists it and
// publishes component_group_registered.
func (r *Registry) RegisterComponentGroup(uid string, configuration map[string]wirehome.Value) error {
	if uid == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.groups[uid]
	g := newComponentGroup(uid)
	g.configuration = wirehome.CloneValueMap(configuration)
	r.groups[uid] = g

	if err := r.saveLocked(g); err != nil {
		r.rollback(uid, prev)
		return err
	}

	r.publish(messagebus.Message{
		messagebus.KeyType:   EventComponentGroupRegistered,
		KeyComponentGroupUID: uid,
	})
	return nil
}

// DeleteComponentGroup removes the group and its on-disk directory.
func (r *Registry) DeleteComponentGroup(uid string) error {
	if uid == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.groups[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentGroupNotFound, uid)
	}
	delete(r.groups, uid)

	if err := r.store.DeleteDirectory(StorageCategory, uid); err != nil {
		r.groups[uid] = prev
		return fmt.Errorf("delete component group directory: %w", err)
	}

	r.publish(messagebus.Message{
		messagebus.KeyType:   EventComponentGroupDeleted,
		KeyComponentGroupUID: uid,
	})
	return nil
}

// InitializeComponentGroup reads the group, its settings and all association
// settings from storage and creates the in-memory entity.
func (r *Registry) InitializeComponentGroup(uid string) error {
	if uid == "" {
		return ErrEmptyUID
	}

	g := newComponentGroup(uid)
	if _, err := r.store.TryRead(&g.configuration, StorageCategory, uid, storage.ConfigurationFilename); err != nil {
		return fmt.Errorf("read component group configuration: %w", err)
	}
	if _, err := r.store.TryRead(&g.settings, StorageCategory, uid, storage.SettingsFilename); err != nil {
		return fmt.Errorf("read component group settings: %w", err)
	}

	if err := r.loadAssociations(uid, componentsSubCategory, g.components); err != nil {
		return err
	}
	if err := r.loadAssociations(uid, macrosSubCategory, g.macros); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups[uid] = g

	r.publish(messagebus.Message{
		messagebus.KeyType:   EventComponentGroupInitialized,
		KeyComponentGroupUID: uid,
	})
	return nil
}

func (r *Registry) loadAssociations(groupUID, subCategory string, into map[string]*association) error {
	memberUIDs, err := r.store.EnumerateDirectories("*", StorageCategory, groupUID, subCategory)
	if err != nil {
		return fmt.Errorf("enumerate %s associations: %w", subCategory, err)
	}
	for _, memberUID := range memberUIDs {
		a := newAssociation()
		if _, err := r.store.TryRead(&a.settings, StorageCategory, groupUID, subCategory, memberUID, storage.SettingsFilename); err != nil {
			return fmt.Errorf("read association settings of %s: %w", memberUID, err)
		}
		into[memberUID] = a
	}
	return nil
}

// AssignComponent adds a component association with default settings. The
// operation is idempotent: assigning an existing member publishes nothing.
func (r *Registry) AssignComponent(groupUID, componentUID string) error {
	return r.assign(groupUID, componentUID, func(g *componentGroup) map[string]*association { return g.components },
		messagebus.Message{
			messagebus.KeyType:   EventComponentAssigned,
			KeyComponentGroupUID: groupUID,
			KeyComponentUID:      componentUID,
		})
}

// UnassignComponent removes a component association. Idempotent.
func (r *Registry) UnassignComponent(groupUID, componentUID string) error {
	return r.unassign(groupUID, componentUID, func(g *componentGroup) map[string]*association { return g.components },
		messagebus.Message{
			messagebus.KeyType:   EventComponentUnassigned,
			KeyComponentGroupUID: groupUID,
			KeyComponentUID:      componentUID,
		})
}

// AssignMacro adds a macro association with default settings. Idempotent.
func (r *Registry) AssignMacro(groupUID, macroUID string) error {
	return r.assign(groupUID, macroUID, func(g *componentGroup) map[string]*association { return g.macros },
		messagebus.Message{
			messagebus.KeyType:   EventMacroAssigned,
			KeyComponentGroupUID: groupUID,
			KeyMacroUID:          macroUID,
		})
}

// UnassignMacro removes a macro association. Idempotent.
func (r *Registry) UnassignMacro(groupUID, macroUID string) error {
	return r.unassign(groupUID, macroUID, func(g *componentGroup) map[string]*association { return g.macros },
		messagebus.Message{
			messagebus.KeyType:   EventMacroUnassigned,
			KeyComponentGroupUID: groupUID,
			KeyMacroUID:          macroUID,
		})
}

func (r *Registry) assign(groupUID, memberUID string, members func(*componentGroup) map[string]*association, event messagebus.Message) error {
	if groupUID == "" || memberUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}
	table := members(g)
	if _, exists := table[memberUID]; exists {
		return nil
	}

	prev := g.clone()
	table[memberUID] = newAssociation()
	if err := r.saveLocked(g); err != nil {
		r.groups[groupUID] = prev
		return err
	}

	r.publish(event)
	return nil
}

func (r *Registry) unassign(groupUID, memberUID string, members func(*componentGroup) map[string]*association, event messagebus.Message) error {
	if groupUID == "" || memberUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}
	table := members(g)
	if _, exists := table[memberUID]; !exists {
		return nil
	}

	prev := g.clone()
	delete(table, memberUID)
	if err := r.saveLocked(g); err != nil {
		r.groups[groupUID] = prev
		return err
	}

	r.publish(event)
	return nil
}

// GetComponentGroupSetting returns a group setting value, or nil when unset.
func (r *Registry) GetComponentGroupSetting(groupUID, settingUID string) (wirehome.Value, error) {
	if groupUID == "" || settingUID == "" {
		return nil, ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}
	return wirehome.CloneValue(g.settings[settingUID]), nil
}

// SetComponentGroupSetting updates a group setting. Equal values are
// coalesced. The published event carries the written value in new_value.
func (r *Registry) SetComponentGroupSetting(groupUID, settingUID string, value wirehome.Value) error {
	if groupUID == "" || settingUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}

	oldValue, had := g.settings[settingUID]
	if (had || value == nil) && wirehome.ValuesEqual(oldValue, value) {
		return nil
	}

	prev := g.clone()
	g.settings[settingUID] = wirehome.CloneValue(value)
	if err := r.saveLocked(g); err != nil {
		r.groups[groupUID] = prev
		return err
	}

	r.publish(messagebus.Message{
		messagebus.KeyType:   EventSettingChanged,
		KeyComponentGroupUID: groupUID,
		KeySettingUID:        settingUID,
		KeyOldValue:          oldValue,
		KeyNewValue:          wirehome.CloneValue(value),
	})
	return nil
}

// RemoveComponentGroupSetting deletes a group setting. Absent keys are a
// no-op; otherwise the change is persisted and setting_changed is published
// with a null new value.
func (r *Registry) RemoveComponentGroupSetting(groupUID, settingUID string) error {
	if groupUID == "" || settingUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}

	oldValue, had := g.settings[settingUID]
	if !had {
		return nil
	}

	prev := g.clone()
	delete(g.settings, settingUID)
	if err := r.saveLocked(g); err != nil {
		r.groups[groupUID] = prev
		return err
	}

	r.publish(messagebus.Message{
		messagebus.KeyType:   EventSettingChanged,
		KeyComponentGroupUID: groupUID,
		KeySettingUID:        settingUID,
		KeyOldValue:          oldValue,
		KeyNewValue:          nil,
	})
	return nil
}

// GetComponentAssociationSetting returns a per-association setting. A missing
// association yields nil without error; a missing group is not-found.
func (r *Registry) GetComponentAssociationSetting(groupUID, componentUID, settingUID string) (wirehome.Value, error) {
	if groupUID == "" || componentUID == "" || settingUID == "" {
		return nil, ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}
	a, ok := g.components[componentUID]
	if !ok {
		return nil, nil
	}
	return wirehome.CloneValue(a.settings[settingUID]), nil
}

// SetComponentAssociationSetting updates a per-association setting. A missing
// association is a silent no-op; equal values are coalesced.
func (r *Registry) SetComponentAssociationSetting(groupUID, componentUID, settingUID string, value wirehome.Value) error {
	if groupUID == "" || componentUID == "" || settingUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}
	a, ok := g.components[componentUID]
	if !ok {
		return nil
	}

	oldValue, had := a.settings[settingUID]
	if (had || value == nil) && wirehome.ValuesEqual(oldValue, value) {
		return nil
	}

	prev := g.clone()
	a.settings[settingUID] = wirehome.CloneValue(value)
	if err := r.saveLocked(g); err != nil {
		r.groups[groupUID] = prev
		return err
	}

	r.publish(messagebus.Message{
		messagebus.KeyType:   EventSettingChanged,
		KeyComponentGroupUID: groupUID,
		KeyComponentUID:      componentUID,
		KeySettingUID:        settingUID,
		KeyOldValue:          oldValue,
		KeyNewValue:          wirehome.CloneValue(value),
	})
	return nil
}

// RemoveComponentAssociationSetting deletes a per-association setting.
// Missing association or key is a no-op.
func (r *Registry) RemoveComponentAssociationSetting(groupUID, componentUID, settingUID string) error {
	if groupUID == "" || componentUID == "" || settingUID == "" {
		return ErrEmptyUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentGroupNotFound, groupUID)
	}
	a, ok := g.components[componentUID]
	if !ok {
		return nil
	}

	oldValue, had := a.settings[settingUID]
	if !had {
		return nil
	}

	prev := g.clone()
	delete(a.settings, settingUID)
	if err := r.saveLocked(g); err != nil {
		r.groups[groupUID] = prev
		return err
	}

	r.publish(messagebus.Message{
		messagebus.KeyType:   EventSettingChanged,
		KeyComponentGroupUID: groupUID,
		KeyComponentUID:      componentUID,
		KeySettingUID:        settingUID,
		KeyOldValue:          oldValue,
		KeyNewValue:          nil,
	})
	return nil
}

// saveLocked persists the full group: configuration, settings and one
// settings document per association. Association directories on disk that are
// no longer present in memory are removed. Must be called with r.mu held.
func (r *Registry) saveLocked(g *componentGroup) error {
	if err := r.store.Write(g.configuration, StorageCategory, g.uid, storage.ConfigurationFilename); err != nil {
		return fmt.Errorf("persist component group configuration: %w", err)
	}
	if err := r.store.Write(g.settings, StorageCategory, g.uid, storage.SettingsFilename); err != nil {
		return fmt.Errorf("persist component group settings: %w", err)
	}
	if err := r.saveAssociations(g.uid, componentsSubCategory, g.components); err != nil {
		return err
	}
	if err := r.saveAssociations(g.uid, macrosSubCategory, g.macros); err != nil {
		return err
	}
	return nil
}

func (r *Registry) saveAssociations(groupUID, subCategory string, members map[string]*association) error {
	for memberUID, a := range members {
		if err := r.store.Write(a.settings, StorageCategory, groupUID, subCategory, memberUID, storage.SettingsFilename); err != nil {
			return fmt.Errorf("persist association settings of %s: %w", memberUID, err)
		}
	}

	// Reconcile stale directories of members removed from memory.
	existing, err := r.store.EnumerateDirectories("*", StorageCategory, groupUID, subCategory)
	if err != nil {
		return fmt.Errorf("enumerate %s associations: %w", subCategory, err)
	}
	for _, memberUID := range existing {
		if _, ok := members[memberUID]; ok {
			continue
		}
		if err := r.store.DeleteDirectory(StorageCategory, groupUID, subCategory, memberUID); err != nil {
			return fmt.Errorf("prune stale association %s: %w", memberUID, err)
		}
	}
	return nil
}

// rollback restores the table entry to its previous value.
func (r *Registry) rollback(uid string, prev *componentGroup) {
	if prev == nil {
		delete(r.groups, uid)
		return
	}
	r.groups[uid] = prev
}

func (r *Registry) publish(m messagebus.Message) {
	if err := r.bus.Publish(m); err != nil {
		r.logger.Error("publishing group registry event failed", "type", m.Type(), "error", err)
	}
}
