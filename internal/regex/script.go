// Package regex applies user-authored find/replace rules to chat messages.
//
// Rules are written in the JavaScript regex dialect (lookaround, named
// groups, backreferences), so they are compiled with regexp2 rather than the
// RE2-based standard library.
package regex

import (
	"sort"
	"strings"
)

// Stage selects when a script runs relative to prompt assembly.
type Stage string

const (
	// StageHistory rewrites inbound chat history before assembly.
	StageHistory Stage = "history"
	// StagePrompt rewrites the assembled outbound message list.
	StagePrompt Stage = "prompt"
)

// Script is one find/replace rule.
type Script struct {
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	ScriptName  string   `json:"scriptName" yaml:"script_name"`
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Replacement string   `json:"replacement" yaml:"replacement"`
	Flags       string   `json:"flags,omitempty" yaml:"flags,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Order       int      `json:"order" yaml:"order"`
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Stage       Stage    `json:"stage,omitempty" yaml:"stage,omitempty"`
}

// EffectiveStage returns the script's stage, defaulting to StageHistory.
func (s Script) EffectiveStage() Stage {
	if s.Stage == "" {
		return StageHistory
	}
	return s.Stage
}

// Name returns a label for logs and diagnostics.
func (s Script) Name() string {
	if s.ScriptName != "" {
		return s.ScriptName
	}
	if s.ID != "" {
		return s.ID
	}
	return s.Pattern
}

func (s Script) appliesTo(role string) bool {
	if len(s.Roles) == 0 {
		return true
	}
	for _, r := range s.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// ForStage returns the scripts belonging to stage, preserving order.
func ForStage(scripts []Script, stage Stage) []Script {
	var out []Script
	for _, s := range scripts {
		if s.EffectiveStage() == stage {
			out = append(out, s)
		}
	}
	return out
}

// Sorted returns the enabled scripts in ascending Order. Scripts with equal
// Order keep their list position.
func Sorted(scripts []Script) []Script {
	out := make([]Script, 0, len(scripts))
	for _, s := range scripts {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// NormalizePattern undoes export artifacts: a pattern written as a
// "/body/flags" literal is split into body and flags (the literal flags are
// merged with the given ones), and escaped slashes are unescaped.
func NormalizePattern(pattern, flags string) (string, string) {
	if body, litFlags, ok := splitLiteral(pattern); ok {
		pattern = body
		flags = mergeFlags(flags, litFlags)
	}
	return strings.ReplaceAll(pattern, `\/`, `/`), flags
}

func splitLiteral(pattern string) (body, flags string, ok bool) {
	if len(pattern) < 2 || pattern[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndex(pattern, "/")
	if end <= 0 {
		return "", "", false
	}
	flags = pattern[end+1:]
	for _, c := range flags {
		if !strings.ContainsRune("gimsuyd", c) {
			return "", "", false
		}
	}
	return pattern[1:end], flags, true
}

func mergeFlags(a, b string) string {
	out := a
	for _, c := range b {
		if !strings.ContainsRune(out, c) {
			out += string(c)
		}
	}
	return out
}
