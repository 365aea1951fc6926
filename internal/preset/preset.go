// Package preset defines chat completion presets: prompt blocks, their
// ordering per character scope, sampler parameters and provider settings.
package preset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/runixer/janiproxy/internal/chat"
	"github.com/runixer/janiproxy/internal/regex"
)

// DefaultScopeID is the prompt order scope used for every request.
const DefaultScopeID = 100001

// Marker identifiers resolved by the assembler.
const (
	MarkerChatHistory        = "chatHistory"
	MarkerDialogueExamples   = "dialogueExamples"
	MarkerCharDescription    = "charDescription"
	MarkerCharPersonality    = "charPersonality"
	MarkerScenario           = "scenario"
	MarkerPersonaDescription = "personaDescription"
	MarkerWorldInfoBefore    = "worldInfoBefore"
	MarkerWorldInfoAfter     = "worldInfoAfter"
)

// Position says where a block is placed.
type Position int

const (
	// PositionRelative blocks form the static prompt area before history.
	PositionRelative Position = 0
	// PositionInChat blocks are spliced into history at InjectionDepth.
	PositionInChat Position = 1
)

func (p Position) String() string {
	if p == PositionInChat {
		return "in_chat"
	}
	return "relative"
}

// UnmarshalJSON accepts 0/1 as well as "relative"/"in_chat".
func (p *Position) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = Position(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("injection position must be a number or string: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relative", "0":
		*p = PositionRelative
	case "in_chat", "inchat", "absolute", "1":
		*p = PositionInChat
	default:
		return fmt.Errorf("unknown injection position %q", s)
	}
	return nil
}

// PromptBlock is a unit of prompt content.
type PromptBlock struct {
	Identifier        string   `json:"identifier"`
	Name              string   `json:"name,omitempty"`
	Role              string   `json:"role,omitempty"`
	Content           string   `json:"content,omitempty"`
	Marker            bool     `json:"marker,omitempty"`
	InjectionPosition Position `json:"injectionPosition"`
	InjectionDepth    int      `json:"injectionDepth"`
	InjectionOrder    int      `json:"injectionOrder,omitempty"`
}

// EffectiveRole returns the block role, system when unset.
func (b PromptBlock) EffectiveRole() string {
	if b.Role == "" {
		return chat.RoleSystem
	}
	return b.Role
}

// OrderEntry enables or disables one block within a scope.
type OrderEntry struct {
	Identifier string `json:"identifier"`
	Enabled    bool   `json:"enabled"`
}

// PromptOrder is the ordered block list for one character scope.
type PromptOrder struct {
	CharacterID int64        `json:"characterId"`
	Order       []OrderEntry `json:"order"`
}

// ProviderSettings holds provider-specific switches.
type ProviderSettings struct {
	SquashSystemMessages bool `json:"squashSystemMessages"`
}

// Preset is a complete chat completion preset.
type Preset struct {
	Name             string           `json:"name"`
	PromptBlocks     []PromptBlock    `json:"promptBlocks"`
	PromptOrder      []PromptOrder    `json:"promptOrder"`
	Sampler          Sampler          `json:"sampler"`
	ProviderSettings ProviderSettings `json:"providerSettings"`
	RegexScripts     []regex.Script   `json:"regexScripts,omitempty"`
}

// Block returns the block with the given identifier.
func (p *Preset) Block(identifier string) (PromptBlock, bool) {
	for _, b := range p.PromptBlocks {
		if b.Identifier == identifier {
			return b, true
		}
	}
	return PromptBlock{}, false
}

// Order returns the order entries for scope. When no entry matches, the
// first entry is used; a preset without any order has no active blocks.
func (p *Preset) Order(scope int64) []OrderEntry {
	for _, po := range p.PromptOrder {
		if po.CharacterID == scope {
			return po.Order
		}
	}
	if len(p.PromptOrder) > 0 {
		return p.PromptOrder[0].Order
	}
	return nil
}

// Validate reports every structural problem found in the preset.
func (p *Preset) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(p.PromptBlocks))
	for i, b := range p.PromptBlocks {
		if b.Identifier == "" {
			errs = append(errs, fmt.Errorf("prompt block %d: identifier is required", i))
			continue
		}
		if _, dup := seen[b.Identifier]; dup {
			errs = append(errs, fmt.Errorf("prompt block %q: duplicate identifier", b.Identifier))
		}
		seen[b.Identifier] = struct{}{}
		if b.Role != "" && !chat.ValidRole(b.Role) {
			errs = append(errs, fmt.Errorf("prompt block %q: invalid role %q", b.Identifier, b.Role))
		}
		if b.InjectionPosition != PositionRelative && b.InjectionPosition != PositionInChat {
			errs = append(errs, fmt.Errorf("prompt block %q: invalid injection position %d", b.Identifier, b.InjectionPosition))
		}
		if b.InjectionDepth < 0 {
			errs = append(errs, fmt.Errorf("prompt block %q: injection depth must be >= 0", b.Identifier))
		}
	}
	if err := p.Sampler.Validate(); err != nil {
		errs = append(errs, err)
	}
	for i, s := range p.RegexScripts {
		if s.Pattern == "" {
			errs = append(errs, fmt.Errorf("regex script %d (%s): pattern is required", i, s.Name()))
		}
	}
	return errors.Join(errs...)
}

// Load decodes and validates a preset from JSON.
func Load(r io.Reader) (*Preset, error) {
	var p Preset
	dec := json.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode preset: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preset %q: %w", p.Name, err)
	}
	return &p, nil
}

//go:embed default_preset.json
var defaultPreset []byte

// Default returns a fresh copy of the built-in preset.
func Default() *Preset {
	p, err := Load(bytes.NewReader(defaultPreset))
	if err != nil {
		panic(fmt.Sprintf("embedded default preset is invalid: %v", err))
	}
	return p
}
