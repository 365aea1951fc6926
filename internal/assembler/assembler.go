// Package assembler turns a preset and parsed request data into the ordered
// message list sent upstream.
package assembler

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/runixer/janiproxy/internal/chat"
	"github.com/runixer/janiproxy/internal/janitor"
	"github.com/runixer/janiproxy/internal/macro"
	"github.com/runixer/janiproxy/internal/preset"
)

// charContentGroup is the used-content group shared by the description and
// personality markers, which read the same inbound field.
const charContentGroup = "charContent"

// ActiveBlock is a block resolved through the prompt order.
type ActiveBlock struct {
	preset.PromptBlock
	Enabled bool
}

// ActiveBlocks resolves the preset's blocks through the default scope's
// order: blocks come in order-entry sequence with their enabled flag, and
// blocks missing from the order are left out. Entries naming unknown blocks
// are skipped.
func ActiveBlocks(p *preset.Preset) []ActiveBlock {
	if p == nil {
		return nil
	}
	order := p.Order(preset.DefaultScopeID)
	out := make([]ActiveBlock, 0, len(order))
	for _, entry := range order {
		block, ok := p.Block(entry.Identifier)
		if !ok {
			continue
		}
		out = append(out, ActiveBlock{PromptBlock: block, Enabled: entry.Enabled})
	}
	return out
}

// Assembler builds the outbound message list. It holds no per-request
// state; everything mutable lives in the macro.Context passed to Assemble.
type Assembler struct {
	logger   *slog.Logger
	expander *macro.Expander
}

func New(logger *slog.Logger, expander *macro.Expander) *Assembler {
	return &Assembler{
		logger:   logger.With("component", "assembler"),
		expander: expander,
	}
}

// Assemble resolves relative blocks and markers, squashes consecutive system
// messages when the preset asks for it, places history (through the
// chatHistory marker or by depth injection of in-chat blocks) and drops
// blank messages. An empty result is not an error.
func (a *Assembler) Assemble(p *preset.Preset, data janitor.ParsedData, mc *macro.Context) []chat.Message {
	start := time.Now()
	if mc == nil {
		mc = macro.NewContext(data)
	}

	var relative, inChat []preset.PromptBlock
	for _, ab := range ActiveBlocks(p) {
		if !ab.Enabled {
			continue
		}
		if ab.InjectionPosition == preset.PositionInChat {
			inChat = append(inChat, ab.PromptBlock)
		} else {
			relative = append(relative, ab.PromptBlock)
		}
	}

	var (
		out           []chat.Message
		history       []chat.Message
		historyPlaced bool
	)
	for _, b := range relative {
		if !b.Marker {
			if content := a.expander.Expand(b.Content, mc); !isBlank(content) {
				out = append(out, chat.Message{Role: b.EffectiveRole(), Content: content})
			}
			continue
		}
		if b.Identifier == preset.MarkerChatHistory {
			if !historyPlaced {
				history = append(history, data.ChatHistory...)
				historyPlaced = true
			}
			continue
		}
		if msg, ok := a.resolveMarker(b, mc); ok {
			out = append(out, msg)
		}
	}

	if p != nil && p.ProviderSettings.SquashSystemMessages {
		out = squashSystem(out)
	}

	if !historyPlaced {
		history = a.injectInChat(inChat, data.ChatHistory, mc)
	}

	result := chat.DropBlank(append(out, history...))

	assemblyDuration.Observe(time.Since(start).Seconds())
	assembledMessages.Observe(float64(len(result)))
	a.logger.Debug("Prompt assembled",
		"relative_blocks", len(relative),
		"in_chat_blocks", len(inChat),
		"history_marker", historyPlaced,
		"messages", len(result),
	)
	return result
}

// resolveMarker returns the single system message a marker stands for.
// Markers with nothing to say, and unknown markers, yield no message.
func (a *Assembler) resolveMarker(b preset.PromptBlock, mc *macro.Context) (chat.Message, bool) {
	var content string
	switch b.Identifier {
	case preset.MarkerDialogueExamples:
		content = mc.MesExamples
	case preset.MarkerCharDescription, preset.MarkerCharPersonality:
		if isBlank(mc.Personality) {
			return chat.Message{}, false
		}
		if !mc.MarkUsed(charContentGroup) {
			markersDeduplicated.Inc()
			return chat.Message{}, false
		}
		content = mc.Personality
	case preset.MarkerScenario:
		content = mc.Scenario
	case preset.MarkerPersonaDescription:
		content = mc.Persona
	case preset.MarkerWorldInfoBefore, preset.MarkerWorldInfoAfter:
		return chat.Message{}, false
	default:
		a.logger.Debug("Unknown marker resolves to nothing", "identifier", b.Identifier)
		return chat.Message{}, false
	}

	content = a.expander.Expand(content, mc)
	if isBlank(content) {
		return chat.Message{}, false
	}
	return chat.Message{Role: chat.RoleSystem, Content: content}, true
}

// injectInChat interleaves in-chat blocks with history. A block of depth d
// goes immediately before the history message that has d-1 messages after
// it; depth 0 blocks trail the history. Blocks deeper than the history never
// match. Equal depths keep their order.
func (a *Assembler) injectInChat(blocks []preset.PromptBlock, history []chat.Message, mc *macro.Context) []chat.Message {
	sorted := make([]preset.PromptBlock, 0, len(blocks))
	for _, b := range blocks {
		if !b.Marker {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InjectionDepth > sorted[j].InjectionDepth
	})

	out := make([]chat.Message, 0, len(history)+len(sorted))
	emit := func(depth int) {
		for _, b := range sorted {
			if b.InjectionDepth != depth {
				continue
			}
			if content := a.expander.Expand(b.Content, mc); !isBlank(content) {
				out = append(out, chat.Message{Role: b.EffectiveRole(), Content: content})
			}
		}
	}

	n := len(history)
	for i, m := range history {
		depthFromEnd := n - 1 - i
		emit(depthFromEnd + 1)
		out = append(out, m)
	}
	emit(0)
	return out
}

// squashSystem merges runs of adjacent system messages, joining contents with
// a newline.
func squashSystem(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if last := len(out) - 1; last >= 0 && m.Role == chat.RoleSystem && out[last].Role == chat.RoleSystem {
			out[last].Content += "\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
