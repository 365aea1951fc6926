// Package pipeline runs the full inbound-to-outbound transformation for one
// request.
package pipeline

import (
	"log/slog"

	"github.com/runixer/janiproxy/internal/chat"
	"github.com/runixer/janiproxy/internal/janitor"
	"github.com/runixer/janiproxy/internal/macro"
	"github.com/runixer/janiproxy/internal/outbound"
	"github.com/runixer/janiproxy/internal/preset"
	"github.com/runixer/janiproxy/internal/regex"
)

// Result is the outcome of one pipeline run.
type Result struct {
	Body        outbound.RequestBody
	Parsed      janitor.ParsedData
	Diagnostics []regex.Diagnostic
}

type Pipeline struct {
	logger  *slog.Logger
	engine  *regex.Engine
	builder *outbound.Builder
}

func New(logger *slog.Logger, engine *regex.Engine, builder *outbound.Builder) *Pipeline {
	return &Pipeline{
		logger:  logger.With("component", "pipeline"),
		engine:  engine,
		builder: builder,
	}
}

// Run parses req, rewrites history with the history-stage scripts, builds
// the outbound body and rewrites the assembled messages with the
// prompt-stage scripts. Standalone scripts and the preset's embedded
// scripts are treated as one flat list. A fresh macro context is created
// per call.
func (p *Pipeline) Run(req janitor.Request, pr *preset.Preset, scripts []regex.Script) Result {
	parsed := janitor.Parse(req)

	all := make([]regex.Script, 0, len(scripts))
	all = append(all, scripts...)
	if pr != nil {
		all = append(all, pr.RegexScripts...)
	}

	var diags []regex.Diagnostic
	if hs := regex.ForStage(all, regex.StageHistory); len(hs) > 0 {
		rewritten, d := p.engine.Apply(parsed.ChatHistory, hs)
		parsed.ChatHistory = rewritten
		diags = append(diags, d...)
	}

	body := p.builder.Build(pr, parsed, macro.NewContext(parsed))

	if ps := regex.ForStage(all, regex.StagePrompt); len(ps) > 0 {
		rewritten, d := p.engine.Apply(body.Messages, ps)
		body.Messages = chat.DropBlank(rewritten)
		diags = append(diags, d...)
	}

	if len(diags) > 0 {
		p.logger.Warn("Regex scripts failed during pipeline run", "failures", len(diags))
	}
	p.logger.Debug("Pipeline run complete",
		"char", parsed.Char,
		"history", len(parsed.ChatHistory),
		"messages", len(body.Messages),
		"stream", body.Stream,
	)

	return Result{Body: body, Parsed: parsed, Diagnostics: diags}
}
