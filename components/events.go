package components

// Bus message types published by the component registry.
const (
	EventComponentRegistered  = "component_registry.event.component_registered"
	EventComponentDeleted     = "component_registry.event.component_deleted"
	EventComponentInitialized = "component_registry.event.initialized"
	EventSettingChanged       = "component_registry.event.setting_changed"
	EventStatusChanged        = "component_registry.event.status_changed"
	EventComponentEnabled     = "component_registry.event.component_enabled"
	EventComponentDisabled    = "component_registry.event.component_disabled"
)

// Payload keys used in registry events.
const (
	KeyComponentUID = "component_uid"
	KeySettingUID   = "setting_uid"
	KeyStatusUID    = "status_uid"
	KeyOldValue     = "old_value"
	KeyNewValue     = "new_value"
)
