package assembler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runixer/janiproxy/internal/chat"
	"github.com/runixer/janiproxy/internal/janitor"
	"github.com/runixer/janiproxy/internal/macro"
	"github.com/runixer/janiproxy/internal/preset"
)

func newTestAssembler() *Assembler {
	return New(slog.New(slog.NewJSONHandler(io.Discard, nil)), macro.New())
}

// buildPreset enables every block in list order.
func buildPreset(blocks ...preset.PromptBlock) *preset.Preset {
	order := make([]preset.OrderEntry, len(blocks))
	for i, b := range blocks {
		order[i] = preset.OrderEntry{Identifier: b.Identifier, Enabled: true}
	}
	return &preset.Preset{
		Name:         "test",
		PromptBlocks: blocks,
		PromptOrder:  []preset.PromptOrder{{CharacterID: preset.DefaultScopeID, Order: order}},
	}
}

func text(id, content string) preset.PromptBlock {
	return preset.PromptBlock{Identifier: id, Role: chat.RoleSystem, Content: content}
}

func marker(id string) preset.PromptBlock {
	return preset.PromptBlock{Identifier: id, Role: chat.RoleSystem, Marker: true}
}

func inChat(id, content string, depth int) preset.PromptBlock {
	return preset.PromptBlock{
		Identifier:        id,
		Role:              chat.RoleSystem,
		Content:           content,
		InjectionPosition: preset.PositionInChat,
		InjectionDepth:    depth,
	}
}

func history(contents ...string) []chat.Message {
	out := make([]chat.Message, len(contents))
	for i, c := range contents {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		out[i] = chat.Message{Role: role, Content: c}
	}
	return out
}

func assemble(p *preset.Preset, data janitor.ParsedData) []chat.Message {
	return newTestAssembler().Assemble(p, data, macro.NewContext(data))
}

func contents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestAssemble_EndToEnd(t *testing.T) {
	p := buildPreset(text("main", "Be {{char}}."))

	got := assemble(p, janitor.ParsedData{Char: "Aria"})

	assert.Equal(t, []chat.Message{{Role: chat.RoleSystem, Content: "Be Aria."}}, got)
}

func TestAssemble_MarkerDedup(t *testing.T) {
	p := buildPreset(marker(preset.MarkerCharDescription), marker(preset.MarkerCharPersonality))

	got := assemble(p, janitor.ParsedData{Personality: "brave"})

	assert.Equal(t, []chat.Message{{Role: chat.RoleSystem, Content: "brave"}}, got)
}

func TestAssemble_MarkerDedupMetric(t *testing.T) {
	p := buildPreset(marker(preset.MarkerCharDescription), marker(preset.MarkerCharPersonality))

	before := testutil.ToFloat64(markersDeduplicated)
	got := assemble(p, janitor.ParsedData{Personality: "  "})
	assert.Empty(t, got)
	assert.Equal(t, before, testutil.ToFloat64(markersDeduplicated), "blank content is not a duplicate")

	assemble(p, janitor.ParsedData{Personality: "brave"})
	assert.Equal(t, before+1, testutil.ToFloat64(markersDeduplicated))
}

func TestAssemble_DepthInjection(t *testing.T) {
	p := buildPreset(inChat("note", "NOTE", 2))

	got := assemble(p, janitor.ParsedData{ChatHistory: history("m0", "m1", "m2")})

	assert.Equal(t, []string{"m0", "NOTE", "m1", "m2"}, contents(got))
}

func TestAssemble_DepthPlacement(t *testing.T) {
	tests := []struct {
		name   string
		blocks []preset.PromptBlock
		want   []string
	}{
		{
			name:   "depth 0 trails history",
			blocks: []preset.PromptBlock{inChat("a", "A", 0)},
			want:   []string{"m0", "m1", "m2", "A"},
		},
		{
			name:   "depth 1 goes before the last message",
			blocks: []preset.PromptBlock{inChat("a", "A", 1)},
			want:   []string{"m0", "m1", "A", "m2"},
		},
		{
			name:   "depth equal to history length goes first",
			blocks: []preset.PromptBlock{inChat("a", "A", 3)},
			want:   []string{"A", "m0", "m1", "m2"},
		},
		{
			name:   "deeper than history is dropped",
			blocks: []preset.PromptBlock{inChat("a", "A", 4)},
			want:   []string{"m0", "m1", "m2"},
		},
		{
			name:   "equal depth keeps order",
			blocks: []preset.PromptBlock{inChat("a", "A", 1), inChat("b", "B", 1)},
			want:   []string{"m0", "m1", "A", "B", "m2"},
		},
		{
			name: "mixed depths",
			blocks: []preset.PromptBlock{
				inChat("a", "A", 0),
				inChat("b", "B", 2),
				inChat("c", "C", 1),
			},
			want: []string{"m0", "B", "m1", "C", "m2", "A"},
		},
		{
			name: "in-chat markers are ignored",
			blocks: []preset.PromptBlock{
				{Identifier: preset.MarkerScenario, Marker: true, InjectionPosition: preset.PositionInChat, InjectionDepth: 0},
			},
			want: []string{"m0", "m1", "m2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assemble(buildPreset(tt.blocks...), janitor.ParsedData{
				Scenario:    "somewhere",
				ChatHistory: history("m0", "m1", "m2"),
			})
			assert.Equal(t, tt.want, contents(got))
		})
	}
}

func TestAssemble_DepthZeroWithEmptyHistory(t *testing.T) {
	got := assemble(buildPreset(inChat("a", "A", 0), inChat("b", "B", 1)), janitor.ParsedData{})

	assert.Equal(t, []string{"A"}, contents(got))
}

func TestAssemble_Squash(t *testing.T) {
	p := buildPreset(text("a", "A"), text("b", "B"))

	p.ProviderSettings.SquashSystemMessages = true
	assert.Equal(t, []chat.Message{{Role: chat.RoleSystem, Content: "A\nB"}}, assemble(p, janitor.ParsedData{}))

	p.ProviderSettings.SquashSystemMessages = false
	assert.Equal(t, []string{"A", "B"}, contents(assemble(p, janitor.ParsedData{})))
}

func TestAssemble_SquashOnlyAdjacentSystem(t *testing.T) {
	userBlock := text("u", "U")
	userBlock.Role = chat.RoleUser
	p := buildPreset(text("a", "A"), userBlock, text("b", "B"), text("c", "C"), inChat("d", "D", 0))
	p.ProviderSettings.SquashSystemMessages = true

	got := assemble(p, janitor.ParsedData{})

	assert.Equal(t, []chat.Message{
		{Role: chat.RoleSystem, Content: "A"},
		{Role: chat.RoleUser, Content: "U"},
		{Role: chat.RoleSystem, Content: "B\nC"},
		{Role: chat.RoleSystem, Content: "D"},
	}, got)
}

func TestAssemble_WhitespaceBlockDropped(t *testing.T) {
	p := buildPreset(text("blank", "   "), text("macro-blank", "{{scenario}}  "), text("main", "kept"))

	got := assemble(p, janitor.ParsedData{})

	assert.Equal(t, []string{"kept"}, contents(got))
}

func TestAssemble_ChatHistoryMarker(t *testing.T) {
	p := buildPreset(
		text("main", "Main"),
		marker(preset.MarkerChatHistory),
		text("post", "Post"),
		inChat("note", "NOTE", 1),
	)
	hist := history("m0", "m1")

	got := assemble(p, janitor.ParsedData{ChatHistory: hist})

	assert.Equal(t, []string{"Main", "Post", "m0", "m1"}, contents(got))
	assert.Equal(t, chat.RoleUser, got[2].Role)
	assert.Equal(t, chat.RoleAssistant, got[3].Role)
}

func TestAssemble_ChatHistoryMarkerListedTwice(t *testing.T) {
	p := buildPreset(marker(preset.MarkerChatHistory))
	p.PromptOrder[0].Order = append(p.PromptOrder[0].Order, preset.OrderEntry{Identifier: preset.MarkerChatHistory, Enabled: true})

	got := assemble(p, janitor.ParsedData{ChatHistory: history("m0")})

	assert.Equal(t, []string{"m0"}, contents(got))
}

func TestAssemble_Markers(t *testing.T) {
	p := buildPreset(
		marker(preset.MarkerWorldInfoBefore),
		marker(preset.MarkerPersonaDescription),
		marker(preset.MarkerCharPersonality),
		marker(preset.MarkerScenario),
		marker(preset.MarkerWorldInfoAfter),
		marker(preset.MarkerDialogueExamples),
		marker("somethingElse"),
	)
	data := janitor.ParsedData{
		User:        "Milo",
		Char:        "Aria",
		Personality: "{{char}} is brave",
		Scenario:    "a tavern",
		Persona:     "{{user}} travels",
		MesExamples: "<START>",
	}

	got := assemble(p, data)

	assert.Equal(t, []string{"Milo travels", "Aria is brave", "a tavern", "<START>"}, contents(got))
	for _, m := range got {
		assert.Equal(t, chat.RoleSystem, m.Role)
	}
}

func TestAssemble_EmptyMarkersContributeNothing(t *testing.T) {
	p := buildPreset(
		marker(preset.MarkerCharDescription),
		marker(preset.MarkerScenario),
		marker(preset.MarkerPersonaDescription),
		marker(preset.MarkerDialogueExamples),
	)

	got := assemble(p, janitor.ParsedData{})

	assert.Empty(t, got)
}

func TestAssemble_OrderAndEnabledState(t *testing.T) {
	p := &preset.Preset{
		PromptBlocks: []preset.PromptBlock{
			text("a", "A"),
			text("b", "B"),
			text("c", "C"),
			text("orphan", "not in order"),
		},
		PromptOrder: []preset.PromptOrder{
			{CharacterID: 1, Order: []preset.OrderEntry{{Identifier: "orphan", Enabled: true}}},
			{CharacterID: preset.DefaultScopeID, Order: []preset.OrderEntry{
				{Identifier: "c", Enabled: true},
				{Identifier: "missing", Enabled: true},
				{Identifier: "a", Enabled: true},
				{Identifier: "b", Enabled: false},
			}},
		},
	}

	got := assemble(p, janitor.ParsedData{})

	assert.Equal(t, []string{"C", "A"}, contents(got))

	active := ActiveBlocks(p)
	require.Len(t, active, 3)
	assert.Equal(t, "c", active[0].Identifier)
	assert.False(t, active[2].Enabled)
}

func TestAssemble_VariablesFlowBetweenBlocks(t *testing.T) {
	p := buildPreset(
		text("set", "{{setvar::mood::grim}}"),
		text("get", "Mood is {{getvar::mood}}."),
		inChat("count", "{{incvar::n}}", 0),
	)
	data := janitor.ParsedData{ChatHistory: history("m0")}
	mc := macro.NewContext(data)

	got := newTestAssembler().Assemble(p, data, mc)

	assert.Equal(t, []string{"Mood is grim.", "m0", "1"}, contents(got))
	assert.Equal(t, "grim", mc.GetVar(macro.ScopeLocal, "mood"))
}

func TestAssemble_NilPresetAndContext(t *testing.T) {
	a := newTestAssembler()

	assert.Empty(t, a.Assemble(nil, janitor.ParsedData{}, nil))
	assert.Equal(t, []string{"hello"}, contents(a.Assemble(nil, janitor.ParsedData{ChatHistory: history("hello")}, nil)))
}

func TestAssemble_DefaultPreset(t *testing.T) {
	data := janitor.ParsedData{
		User:        "Milo",
		Char:        "Aria",
		Personality: "brave",
		Scenario:    "a tavern",
		ChatHistory: history("hi", "hello"),
	}

	got := assemble(preset.Default(), data)

	require.Len(t, got, 5)
	assert.Equal(t, "Write Aria's next reply in a fictional chat between Aria and Milo.", got[0].Content)
	assert.Equal(t, []string{"brave", "a tavern", "hi", "hello"}, contents(got[1:]))
}

func TestAssemble_DoesNotMutateHistory(t *testing.T) {
	hist := history("m0", "m1")
	p := buildPreset(text("a", "A"), text("b", "B"), marker(preset.MarkerChatHistory))
	p.ProviderSettings.SquashSystemMessages = true

	assemble(p, janitor.ParsedData{ChatHistory: hist})

	assert.Equal(t, history("m0", "m1"), hist)
}
