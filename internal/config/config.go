// Package config implements the small directive-tree configuration format
// used throughout localbox, in the same style the surrounding modules use
// (cfg.Int64/cfg.Bool/cfg.Process against a config.Map built from a
// config.Node).
package config

import (
	"fmt"
	"strconv"
	"time"
)

// Node is one directive in a configuration tree: a name, its arguments, and
// any nested block.
type Node struct {
	Name     string
	Args     []string
	Children []Node
	File     string
	Line     int
}

// Map accumulates typed directive bindings against a Node; Process
// applies them and returns the child directives no binding consumed.
type Map struct {
	block    Node
	globals  *Map
	used     map[int]bool
	bindings []binding
}

type binding struct {
	name        string
	inheritable bool
	required    bool
	apply       func(n Node) error
}

// NewMap starts a Map for block, optionally inheriting un-overridden
// directives from globals (nil for the root block).
func NewMap(globals *Map, block Node) *Map {
	return &Map{
		block:   block,
		globals: globals,
		used:    make(map[int]bool),
	}
}

func (m *Map) childrenNamed(name string) []Node {
	var out []Node
	for i, c := range m.block.Children {
		if c.Name == name {
			m.used[i] = true
			out = append(out, c)
		}
	}
	return out
}

func (m *Map) find(name string, inheritable bool) (Node, bool) {
	matches := m.childrenNamed(name)
	if len(matches) > 0 {
		return matches[len(matches)-1], true
	}
	if inheritable && m.globals != nil {
		return m.globals.find(name, false)
	}
	return Node{}, false
}

// String binds a single string argument of directive name.
func (m *Map) String(name string, inheritable, required bool, def string, dst *string) {
	*dst = def
	m.bindings = append(m.bindings, binding{name, inheritable, required, func(n Node) error {
		if len(n.Args) < 1 {
			return fmt.Errorf("config: %s requires an argument", name)
		}
		*dst = n.Args[0]
		return nil
	}})
}

// Bool binds a boolean directive (present with no args, or "yes"/"no").
func (m *Map) Bool(name string, inheritable, required bool, dst *bool) {
	m.bindings = append(m.bindings, binding{name, inheritable, required, func(n Node) error {
		if len(n.Args) == 0 {
			*dst = true
			return nil
		}
		v, err := strconv.ParseBool(n.Args[0])
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = v
		return nil
	}})
}

// Int64 binds an integer directive.
func (m *Map) Int64(name string, inheritable, required bool, def int64, dst *int64) {
	*dst = def
	m.bindings = append(m.bindings, binding{name, inheritable, required, func(n Node) error {
		if len(n.Args) < 1 {
			return fmt.Errorf("config: %s requires an argument", name)
		}
		v, err := strconv.ParseInt(n.Args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = v
		return nil
	}})
}

// Duration binds a directive whose argument parses with time.ParseDuration.
func (m *Map) Duration(name string, inheritable, required bool, def time.Duration, dst *time.Duration) {
	*dst = def
	m.bindings = append(m.bindings, binding{name, inheritable, required, func(n Node) error {
		if len(n.Args) < 1 {
			return fmt.Errorf("config: %s requires an argument", name)
		}
		v, err := time.ParseDuration(n.Args[0])
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = v
		return nil
	}})
}

// StringList binds a directive's arguments as a list, replacing def if the
// directive is present at all.
func (m *Map) StringList(name string, inheritable, required bool, def []string, dst *[]string) {
	*dst = def
	m.bindings = append(m.bindings, binding{name, inheritable, required, func(n Node) error {
		*dst = append([]string{}, n.Args...)
		return nil
	}})
}

// Process applies every binding against the block (falling back to
// inherited globals where allowed), returning the directives nobody
// consumed so the caller can surface "unknown directive" errors.
func (m *Map) Process() ([]Node, error) {
	for _, b := range m.bindings {
		n, ok := m.find(b.name, b.inheritable)
		if !ok {
			if b.required {
				return nil, fmt.Errorf("config: missing required directive %q", b.name)
			}
			continue
		}
		if err := b.apply(n); err != nil {
			return nil, err
		}
	}

	var unknown []Node
	for i, c := range m.block.Children {
		if !m.used[i] {
			unknown = append(unknown, c)
		}
	}
	return unknown, nil
}
