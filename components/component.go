package components

import "github.com/wirehome/core"

// Component is a snapshot of a registered component. The registry hands out
// deep copies, so callers may inspect a snapshot without holding any lock.
type Component struct {
	UID           string                    `json:"uid"`
	Settings      map[string]wirehome.Value `json:"settings"`
	Status        map[string]wirehome.Value `json:"status"`
	Configuration map[string]wirehome.Value `json:"configuration"`
	Enabled       bool                      `json:"is_enabled"`
}

// component is the registry-internal mutable entity.
type component struct {
	uid           string
	settings      map[string]wirehome.Value
	status        map[string]wirehome.Value
	configuration map[string]wirehome.Value
	enabled       bool
}

func (c *component) snapshot() *Component {
	return &Component{
		UID:           c.uid,
		Settings:      wirehome.CloneValueMap(c.settings),
		Status:        wirehome.CloneValueMap(c.status),
		Configuration: wirehome.CloneValueMap(c.configuration),
		Enabled:       c.enabled,
	}
}
