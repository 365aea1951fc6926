package janitor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runixer/janiproxy/internal/chat"
)

const sampleSystem = `<Aria's Persona>
A brave knight sworn to protect the realm.
</Aria's Persona>
<Scenario>A stormy night at the castle gates.</Scenario>
<UserPersona>A wandering bard.</UserPersona>
<example_dialogs>{{char}}: Halt! Who goes there?</example_dialogs>
<Username>Milo</Username>`

func TestDecode(t *testing.T) {
	body := []byte(`{
		"model": "gpt-test",
		"stream": true,
		"temperature": 0.7,
		"messages": [
			{"role": "system", "content": "sys"},
			{"role": "User", "content": [{"type": "text", "text": "Hel"}, {"type": "image_url", "image_url": {"url": "x"}}, {"type": "text", "text": "lo"}]},
			{"role": "assistant", "content": null}
		]
	}`)

	req, err := Decode(body)
	require.NoError(t, err)

	assert.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, chat.Message{Role: "user", Content: "Hello"}, req.Messages[1])
	assert.Equal(t, "", req.Messages[2].Content)

	assert.NotContains(t, req.Params, "messages")
	assert.JSONEq(t, "0.7", string(req.Params["temperature"]))
	assert.JSONEq(t, "true", string(req.Params["stream"]))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"messages": "nope"}`))
	assert.Error(t, err)

	req, err := Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, req.Messages)
}

func TestParse_ExtractsTags(t *testing.T) {
	req := Request{
		Model: "gpt-test",
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: sampleSystem},
			{Role: chat.RoleUser, Content: "Hi"},
			{Role: chat.RoleAssistant, Content: "Halt!"},
		},
		Params: map[string]json.RawMessage{"stream": json.RawMessage("true")},
	}

	data := Parse(req)

	assert.Equal(t, "Milo", data.User)
	assert.Equal(t, "Aria", data.Char)
	assert.Equal(t, "A brave knight sworn to protect the realm.", data.Personality)
	assert.Equal(t, data.Personality, data.Description())
	assert.Equal(t, "A stormy night at the castle gates.", data.Scenario)
	assert.Equal(t, "A wandering bard.", data.Persona)
	assert.Equal(t, "{{char}}: Halt! Who goes there?", data.MesExamples)
	assert.Equal(t, "gpt-test", data.Model)
	assert.True(t, data.Stream())
	assert.Len(t, data.ChatHistory, 2)
}

func TestParse_ExcludesAllSystemMessages(t *testing.T) {
	req := Request{Messages: []chat.Message{
		{Role: chat.RoleSystem, Content: sampleSystem},
		{Role: chat.RoleUser, Content: "one"},
		{Role: chat.RoleSystem, Content: "[OOC note]"},
		{Role: chat.RoleAssistant, Content: "two"},
	}}

	data := Parse(req)

	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "one"},
		{Role: chat.RoleAssistant, Content: "two"},
	}, data.ChatHistory)
}

func TestParse_MissingOrMalformedSystem(t *testing.T) {
	tests := []struct {
		name     string
		messages []chat.Message
	}{
		{name: "no messages"},
		{name: "first message not system", messages: []chat.Message{
			{Role: chat.RoleUser, Content: "<Username>Milo</Username>"},
		}},
		{name: "system without tags", messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "just text"},
		}},
		{name: "mismatched persona tag", messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "<Aria's Persona>brave</Bob's Persona>"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Parse(Request{Messages: tt.messages})
			assert.Empty(t, data.User)
			assert.Empty(t, data.Char)
			assert.Empty(t, data.Personality)
			assert.Empty(t, data.Scenario)
			assert.Empty(t, data.Persona)
			assert.Empty(t, data.MesExamples)
			assert.NotNil(t, data.OriginalParams)
			assert.False(t, data.Stream())
		})
	}
}

func TestFindCharPersona(t *testing.T) {
	tests := []struct {
		name, text, wantName, wantBody string
	}{
		{name: "simple", text: "<Aria's Persona> brave </Aria's Persona>", wantName: "Aria", wantBody: "brave"},
		{name: "nearest close", text: "<A's Persona>one</A's Persona><A's Persona>two</A's Persona>", wantName: "A", wantBody: "one"},
		{name: "skips unclosed open", text: "<Bob's Persona>x<Aria's Persona>brave</Aria's Persona>", wantName: "Aria", wantBody: "brave"},
		{name: "close before open", text: "</Aria's Persona><Aria's Persona>brave", wantName: "", wantBody: ""},
		{name: "multiline body", text: "<Aria's Persona>\nline one\nline two\n</Aria's Persona>", wantName: "Aria", wantBody: "line one\nline two"},
		{name: "name with spaces", text: "<Sir Aria's Persona>brave</Sir Aria's Persona>", wantName: "Sir Aria", wantBody: "brave"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, body := findCharPersona(tt.text)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestFindCharPersona_ManyUnclosedTags(t *testing.T) {
	unclosed := strings.Repeat("<ab's Persona>x", 20000)

	tests := []struct {
		name     string
		text     string
		wantName string
	}{
		{name: "no close at all", text: unclosed},
		{name: "close for another name", text: unclosed + "</zz's Persona>"},
		{name: "close at the very end", text: unclosed + "</ab's Persona>", wantName: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			data := Parse(Request{Messages: []chat.Message{{Role: chat.RoleSystem, Content: tt.text}}})
			assert.Less(t, time.Since(start), 2*time.Second)

			assert.Equal(t, tt.wantName, data.Char)
			if tt.wantName == "" {
				assert.Empty(t, data.Personality)
			} else {
				assert.True(t, strings.HasPrefix(data.Personality, "x<ab's Persona>x"))
			}
		})
	}
}

func TestParse_PassesParamsThrough(t *testing.T) {
	params := map[string]json.RawMessage{
		"model":       json.RawMessage(`"m"`),
		"temperature": json.RawMessage(`1.2`),
		"stream":      json.RawMessage(`"yes"`),
	}
	data := Parse(Request{Params: params})

	assert.Equal(t, params, data.OriginalParams)
	assert.False(t, data.Stream(), "non-bool stream flag is ignored")
}
