// Package macro expands the {{...}} placeholder language used in prompt
// blocks.
//
// Tokens are not nested: a token opens at "{{" and closes at the first "}}"
// after it. Names match case-insensitively. A token that is not recognised
// is written back verbatim, so unsupported macros survive a round trip.
// Substituted values are never rescanned.
package macro

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

// Expander evaluates macros. It keeps no per-call state and is safe for
// concurrent use; all mutable state lives in the Context.
type Expander struct {
	now    func() time.Time
	intn   func(n int) int
	logger *slog.Logger
}

type Option func(*Expander)

// WithClock overrides the invocation clock used by date and time macros.
func WithClock(now func() time.Time) Option {
	return func(e *Expander) { e.now = now }
}

// WithRandom overrides the source for random and roll. intn must return a
// value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(e *Expander) { e.intn = intn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Expander) { e.logger = logger }
}

func New(opts ...Option) *Expander {
	e := &Expander{
		now:    time.Now,
		intn:   rand.IntN,
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "macro_expander")
	return e
}

var trimToken = regexp.MustCompile(`(?i)(?:\r?\n)*\{\{trim\}\}(?:\r?\n)*`)

// Expand replaces every recognised token in text. Text without "{{" is
// returned unchanged.
func (e *Expander) Expand(text string, mc *Context) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	if mc == nil {
		mc = &Context{}
	}

	ev := &evaluation{
		expander: e,
		mc:       mc,
		source:   text,
		now:      e.now(),
	}

	var sb strings.Builder
	sb.Grow(len(text))
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			sb.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			sb.WriteString(rest)
			break
		}
		end += start + 2

		sb.WriteString(rest[:start])
		token := rest[start : end+2]
		if value, ok := ev.eval(rest[start+2 : end]); ok {
			sb.WriteString(value)
		} else {
			sb.WriteString(token)
			recordUnknown()
			e.logger.Debug("Leaving unrecognized macro as is", "macro", token)
		}
		rest = rest[end+2:]
	}

	return trimToken.ReplaceAllString(sb.String(), "")
}

// evaluation carries the state of one Expand call.
type evaluation struct {
	expander *Expander
	mc       *Context
	source   string
	now      time.Time
}

func (ev *evaluation) eval(inner string) (string, bool) {
	name := strings.TrimSpace(inner)
	if strings.HasPrefix(name, "//") {
		return "", true
	}

	if v, ok := ev.simple(strings.ToLower(name)); ok {
		return v, true
	}

	for _, h := range prefixHandlers {
		if rest, ok := cutPrefixFold(name, h.prefix); ok {
			return h.fn(ev, rest)
		}
	}

	if m := timeUTC.FindStringSubmatch(name); m != nil {
		return ev.timeUTC(m[1])
	}
	if noOpArg.MatchString(name) {
		return "", true
	}

	return "", false
}

// simple resolves macros that take no argument.
func (ev *evaluation) simple(name string) (string, bool) {
	mc := ev.mc
	switch name {
	case "user":
		return mc.User, true
	case "char", "charifnotgroup", "group":
		return mc.Char, true
	case "description":
		return mc.Description(), true
	case "personality":
		return mc.Personality, true
	case "persona":
		return mc.Persona, true
	case "scenario":
		return mc.Scenario, true
	case "mesexamples":
		return mc.MesExamples, true
	case "mesexamplesraw":
		return mc.MesExamplesRaw, true
	case "model":
		return mc.Model, true
	case "lastmessage":
		return mc.LastMessage, true
	case "lastusermessage":
		return mc.LastUserMessage, true
	case "lastcharmessage":
		return mc.LastCharMessage, true
	case "lastspeaker":
		return mc.LastSpeaker, true
	case "summary":
		return mc.Summary, true
	case "authorsnote":
		return mc.AuthorsNote, true
	case "charauthorsnote":
		return mc.CharAuthorsNote, true
	case "defaultauthorsnote":
		return mc.DefaultAuthorsNote, true
	case "newline":
		return "\n", true
	case "trim":
		// Removed, with surrounding newlines, by the post-pass in Expand.
		return "{{trim}}", true
	case "pipe", "noop", "original":
		return "", true
	case "time":
		return ev.now.Format("3:04 PM"), true
	case "date":
		return ev.now.Format("January 2, 2006"), true
	case "weekday":
		return ev.now.Format("Monday"), true
	case "isotime":
		return ev.now.Format("15:04"), true
	case "isodate":
		return ev.now.Format("2006-01-02"), true
	}
	return "", false
}

type prefixHandler struct {
	prefix string
	fn     func(ev *evaluation, rest string) (string, bool)
}

// Longer prefixes come first so "random::" wins over "random:" and the
// global variable forms win over the local ones.
var prefixHandlers = []prefixHandler{
	{"getglobalvar::", func(ev *evaluation, rest string) (string, bool) { return ev.getVar(ScopeGlobal, rest) }},
	{"setglobalvar::", func(ev *evaluation, rest string) (string, bool) { return ev.setVar(ScopeGlobal, rest) }},
	{"addglobalvar::", func(ev *evaluation, rest string) (string, bool) { return ev.addVar(ScopeGlobal, rest) }},
	{"incglobalvar::", func(ev *evaluation, rest string) (string, bool) { return ev.stepVar(ScopeGlobal, rest, 1) }},
	{"decglobalvar::", func(ev *evaluation, rest string) (string, bool) { return ev.stepVar(ScopeGlobal, rest, -1) }},
	{"getvar::", func(ev *evaluation, rest string) (string, bool) { return ev.getVar(ScopeLocal, rest) }},
	{"setvar::", func(ev *evaluation, rest string) (string, bool) { return ev.setVar(ScopeLocal, rest) }},
	{"addvar::", func(ev *evaluation, rest string) (string, bool) { return ev.addVar(ScopeLocal, rest) }},
	{"incvar::", func(ev *evaluation, rest string) (string, bool) { return ev.stepVar(ScopeLocal, rest, 1) }},
	{"decvar::", func(ev *evaluation, rest string) (string, bool) { return ev.stepVar(ScopeLocal, rest, -1) }},
	{"var::", func(ev *evaluation, rest string) (string, bool) { return ev.getVar(ScopeLocal, rest) }},
	{"random::", func(ev *evaluation, rest string) (string, bool) { return ev.random(strings.Split(rest, "::")) }},
	{"random:", func(ev *evaluation, rest string) (string, bool) { return ev.random(splitCommaList(rest)) }},
	{"pick::", func(ev *evaluation, rest string) (string, bool) { return ev.pick(strings.Split(rest, "::")) }},
	{"pick:", func(ev *evaluation, rest string) (string, bool) { return ev.pick(splitCommaList(rest)) }},
	{"roll:", (*evaluation).roll},
	{"roll ", (*evaluation).roll},
	{"reverse:", func(_ *evaluation, rest string) (string, bool) { return reverse(rest), true }},
	{"outlet::", func(ev *evaluation, rest string) (string, bool) { return ev.mc.Outlets[strings.TrimSpace(rest)], true }},
	{"datetimeformat ", (*evaluation).dateTimeFormat},
	{"timediff::", (*evaluation).timeDiff},
}

var (
	timeUTC = regexp.MustCompile(`(?i)^time_utc([+-]\d+)$`)
	noOpArg = regexp.MustCompile(`(?is)^(?:bias|banned) "(.*)"$`)
)

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// splitCommaList splits a comma-separated list, honouring "\," as an escaped
// comma, and trims each item.
func splitCommaList(s string) []string {
	const placeholder = "\x00comma\x00"
	s = strings.ReplaceAll(s, `\,`, placeholder)
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.TrimSpace(p), placeholder, ",")
	}
	return parts
}

// reverse reverses the characters of its argument after stripping one layer
// of enclosing parentheses.
func reverse(arg string) string {
	if len(arg) >= 2 && arg[0] == '(' && arg[len(arg)-1] == ')' {
		arg = arg[1 : len(arg)-1]
	}
	runes := []rune(arg)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
