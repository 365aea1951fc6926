package macro

import (
	"math"
	"strconv"
	"strings"

	"github.com/runixer/janiproxy/internal/chat"
	"github.com/runixer/janiproxy/internal/janitor"
)

// Scope selects a variable map.
type Scope int

const (
	ScopeLocal Scope = iota
	ScopeGlobal
)

// Variables maps a variable name to its stored value. Numbers produced by
// add/inc/dec are stored in their shortest decimal form ("2", "0.5").
type Variables map[string]string

// Context is the mutable state threaded through macro expansion for one
// request. It must not be shared between concurrent requests.
type Context struct {
	User string
	Char string
	// Personality is the single persona field of the inbound format; the
	// "description" macro and marker read it as well.
	Personality    string
	Scenario       string
	Persona        string
	MesExamples    string
	MesExamplesRaw string

	LastMessage     string
	LastUserMessage string
	LastCharMessage string
	LastSpeaker     string

	Model string

	Summary            string
	AuthorsNote        string
	CharAuthorsNote    string
	DefaultAuthorsNote string
	Outlets            map[string]string

	Local  Variables
	Global Variables

	usedContentGroups map[string]struct{}
}

// NewContext builds a fresh context from parsed request data.
func NewContext(data janitor.ParsedData) *Context {
	mc := &Context{
		User:           data.User,
		Char:           data.Char,
		Personality:    data.Personality,
		Scenario:       data.Scenario,
		Persona:        data.Persona,
		MesExamples:    data.MesExamples,
		MesExamplesRaw: data.MesExamples,
		Model:          data.Model,
		Outlets:        map[string]string{},
		Local:          Variables{},
		Global:         Variables{},
	}

	history := data.ChatHistory
	if n := len(history); n > 0 {
		last := history[n-1]
		mc.LastMessage = last.Content
		switch last.Role {
		case chat.RoleUser:
			mc.LastSpeaker = data.User
		case chat.RoleAssistant:
			mc.LastSpeaker = data.Char
		}
	}
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if mc.LastUserMessage == "" && m.Role == chat.RoleUser {
			mc.LastUserMessage = m.Content
		}
		if mc.LastCharMessage == "" && m.Role == chat.RoleAssistant {
			mc.LastCharMessage = m.Content
		}
	}

	return mc
}

// Description returns the character description, the same value as
// Personality.
func (c *Context) Description() string {
	return c.Personality
}

// MarkUsed records that the content group has been emitted. It returns false
// when the group was already marked.
func (c *Context) MarkUsed(group string) bool {
	if c.usedContentGroups == nil {
		c.usedContentGroups = make(map[string]struct{})
	}
	if _, ok := c.usedContentGroups[group]; ok {
		return false
	}
	c.usedContentGroups[group] = struct{}{}
	return true
}

// Used reports whether the content group was already emitted.
func (c *Context) Used(group string) bool {
	_, ok := c.usedContentGroups[group]
	return ok
}

func (c *Context) vars(scope Scope) Variables {
	if scope == ScopeGlobal {
		if c.Global == nil {
			c.Global = Variables{}
		}
		return c.Global
	}
	if c.Local == nil {
		c.Local = Variables{}
	}
	return c.Local
}

// GetVar returns the stored value or "" when unset.
func (c *Context) GetVar(scope Scope, name string) string {
	return c.vars(scope)[name]
}

// SetVar overwrites the stored value.
func (c *Context) SetVar(scope Scope, name, value string) {
	c.vars(scope)[name] = value
}

// AddVar coerces the stored value and delta to numbers (non-numeric counts
// as zero), stores the sum and returns it.
func (c *Context) AddVar(scope Scope, name string, delta float64) float64 {
	v := c.vars(scope)
	sum := toNumber(v[name]) + delta
	v[name] = formatNumber(sum)
	return sum
}

func toNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
