package testutil

import (
	"encoding/json"

	"github.com/runixer/janiproxy/internal/chat"
	"github.com/runixer/janiproxy/internal/preset"
	"github.com/runixer/janiproxy/internal/regex"
)

const (
	TestCharName = "Aria"
	TestUserName = "Milo"
	TestModel    = "test-model"
)

// TestSystemPrompt is a leading system message in the shape the Janitor
// client sends.
const TestSystemPrompt = "<Aria's Persona>A brave knight of the northern march.</Aria's Persona>\n" +
	"<Username>Milo</Username>\n" +
	"<UserPersona>A travelling bard.</UserPersona>\n" +
	"<Scenario>They meet in a crowded tavern.</Scenario>\n" +
	"<example_dialogs>Aria: Well met.</example_dialogs>"

// TestHistory returns a short alternating chat history.
func TestHistory() []chat.Message {
	return []chat.Message{
		{Role: chat.RoleAssistant, Content: "Greetings, traveller."},
		{Role: chat.RoleUser, Content: "Hello, brave knight."},
	}
}

// TestRequest returns a Janitor request body with the standard system
// prompt followed by TestHistory.
func TestRequest(stream bool) map[string]any {
	messages := []chat.Message{{Role: chat.RoleSystem, Content: TestSystemPrompt}}
	messages = append(messages, TestHistory()...)
	return map[string]any{
		"model":    TestModel,
		"messages": messages,
		"stream":   stream,
	}
}

// TestRequestJSON returns TestRequest encoded as JSON.
func TestRequestJSON(stream bool) []byte {
	data, err := json.Marshal(TestRequest(stream))
	if err != nil {
		panic(err)
	}
	return data
}

// TestPreset returns a small valid preset: a main prompt, the description
// marker and the history marker, with explicit sampler values.
func TestPreset(name string) *preset.Preset {
	return &preset.Preset{
		Name: name,
		PromptBlocks: []preset.PromptBlock{
			{Identifier: "main", Role: chat.RoleSystem, Content: "You are {{char}}, talking to {{user}}."},
			{Identifier: preset.MarkerCharDescription, Marker: true},
			{Identifier: preset.MarkerChatHistory, Marker: true},
		},
		PromptOrder: []preset.PromptOrder{{
			CharacterID: preset.DefaultScopeID,
			Order: []preset.OrderEntry{
				{Identifier: "main", Enabled: true},
				{Identifier: preset.MarkerCharDescription, Enabled: true},
				{Identifier: preset.MarkerChatHistory, Enabled: true},
			},
		}},
		Sampler: preset.Sampler{
			Temperature: Ptr(0.8),
			MaxTokens:   Ptr(512),
		},
	}
}

// TestScripts returns an enabled history-stage script replacing "knight"
// with "paladin".
func TestScripts() []regex.Script {
	return []regex.Script{{
		ID:          "knight",
		ScriptName:  "knight to paladin",
		Pattern:     "/knight/gi",
		Replacement: "paladin",
		Enabled:     true,
		Stage:       regex.StageHistory,
	}}
}
