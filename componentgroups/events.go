package componentgroups

// Bus message types published by the component group registry.
const (
	EventComponentGroupRegistered  = "component_group_registry.event.component_group_registered"
	EventComponentGroupDeleted     = "component_group_registry.event.component_group_deleted"
	EventComponentGroupInitialized = "component_group_registry.event.initialized"
	EventComponentAssigned         = "component_group_registry.event.component_assigned"
	EventComponentUnassigned       = "component_group_registry.event.component_unassigned"
	EventMacroAssigned             = "component_group_registry.event.macro_assigned"
	EventMacroUnassigned           = "component_group_registry.event.macro_unassigned"
	EventSettingChanged            = "component_group_registry.event.setting_changed"
)

// Payload keys used in group registry events.
const (
	KeyComponentGroupUID = "component_group_uid"
	KeyComponentUID      = "component_uid"
	KeyMacroUID          = "macro_uid"
	KeySettingUID        = "setting_uid"
	KeyOldValue          = "old_value"
	KeyNewValue          = "new_value"
)
