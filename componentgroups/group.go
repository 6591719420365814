package componentgroups

import "github.com/wirehome/core"

// Association is a membership edge from a group to a component or macro,
// carrying its own settings. It references the member by uid only; deleting
// the member does not cascade here.
type Association struct {
	Settings map[string]wirehome.Value `json:"settings"`
}

// ComponentGroup is a snapshot of a registered group. The registry hands out
// deep copies.
type ComponentGroup struct {
	UID           string                    `json:"uid"`
	Settings      map[string]wirehome.Value `json:"settings"`
	Configuration map[string]wirehome.Value `json:"configuration"`
	Components    map[string]*Association   `json:"components"`
	Macros        map[string]*Association   `json:"macros"`
}

// association is the registry-internal mutable edge.
type association struct {
	settings map[string]wirehome.Value
}

func newAssociation() *association {
	return &association{settings: make(map[string]wirehome.Value)}
}

func (a *association) clone() *association {
	return &association{settings: wirehome.CloneValueMap(a.settings)}
}

func (a *association) snapshot() *Association {
	return &Association{Settings: wirehome.CloneValueMap(a.settings)}
}

// componentGroup is the registry-internal mutable entity.
type componentGroup struct {
	uid           string
	settings      map[string]wirehome.Value
	configuration map[string]wirehome.Value
	components    map[string]*association
	macros        map[string]*association
}

func newComponentGroup(uid string) *componentGroup {
	return &componentGroup{
		uid:           uid,
		settings:      make(map[string]wirehome.Value),
		configuration: make(map[string]wirehome.Value),
		components:    make(map[string]*association),
		macros:        make(map[string]*association),
	}
}

func (g *componentGroup) clone() *componentGroup {
	c := &componentGroup{
		uid:           g.uid,
		settings:      wirehome.CloneValueMap(g.settings),
		configuration: wirehome.CloneValueMap(g.configuration),
		components:    make(map[string]*association, len(g.components)),
		macros:        make(map[string]*association, len(g.macros)),
	}
	for uid, a := range g.components {
		c.components[uid] = a.clone()
	}
	for uid, a := range g.macros {
		c.macros[uid] = a.clone()
	}
	return c
}

func (g *componentGroup) snapshot() *ComponentGroup {
	s := &ComponentGroup{
		UID:           g.uid,
		Settings:      wirehome.CloneValueMap(g.settings),
		Configuration: wirehome.CloneValueMap(g.configuration),
		Components:    make(map[string]*Association, len(g.components)),
		Macros:        make(map[string]*Association, len(g.macros)),
	}
	for uid, a := range g.components {
		s.Components[uid] = a.snapshot()
	}
	for uid, a := range g.macros {
		s.Macros[uid] = a.snapshot()
	}
	return s
}
