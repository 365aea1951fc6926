// Package outbound builds the request body sent to the upstream chat
// completions API.
package outbound

import (
	"github.com/runixer/janiproxy/internal/assembler"
	"github.com/runixer/janiproxy/internal/chat"
	"github.com/runixer/janiproxy/internal/janitor"
	"github.com/runixer/janiproxy/internal/macro"
	"github.com/runixer/janiproxy/internal/preset"
)

// RequestBody is the OpenAI-compatible chat completion request. Every field
// is always serialized, zero values included.
type RequestBody struct {
	Model            string         `json:"model"`
	Messages         []chat.Message `json:"messages"`
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"top_p"`
	MaxTokens        int            `json:"max_tokens"`
	Stream           bool           `json:"stream"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	PresencePenalty  float64        `json:"presence_penalty"`
}

type Builder struct {
	assembler *assembler.Assembler
}

func NewBuilder(a *assembler.Assembler) *Builder {
	return &Builder{assembler: a}
}

// Build assembles the messages and attaches sampler parameters. The model
// and stream flag come from the inbound request; unset sampler fields take
// their documented defaults.
func (b *Builder) Build(p *preset.Preset, data janitor.ParsedData, mc *macro.Context) RequestBody {
	messages := b.assembler.Assemble(p, data, mc)
	if messages == nil {
		messages = []chat.Message{}
	}

	var sampler preset.Sampler
	if p != nil {
		sampler = p.Sampler
	}
	s := sampler.Resolve()

	return RequestBody{
		Model:            data.Model,
		Messages:         messages,
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		MaxTokens:        s.MaxTokens,
		Stream:           data.Stream(),
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
	}
}
