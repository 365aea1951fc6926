package regex

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/runixer/janiproxy/internal/chat"
)

// DefaultMatchTimeout bounds a single match so a pathological user pattern
// cannot stall a request.
const DefaultMatchTimeout = 2 * time.Second

// ErrMatchTimeout is reported when a script exceeds the match timeout.
var ErrMatchTimeout = errors.New("match timeout")

// maxErrorLen caps other replace errors, which may quote the input.
const maxErrorLen = 200

var matchAlias = regexp.MustCompile(`(?i)\{\{match\}\}`)

// Diagnostic records a script that was skipped. MessageIndex is -1 when the
// script failed to compile and was skipped for every message.
type Diagnostic struct {
	Script       string
	MessageIndex int
	Err          error
}

func (d Diagnostic) String() string {
	if d.MessageIndex < 0 {
		return fmt.Sprintf("script %q: %v", d.Script, d.Err)
	}
	return fmt.Sprintf("script %q on message %d: %v", d.Script, d.MessageIndex, d.Err)
}

// Engine applies ordered rewrite scripts. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	logger       *slog.Logger
	matchTimeout time.Duration
}

func NewEngine(logger *slog.Logger, matchTimeout time.Duration) *Engine {
	if matchTimeout <= 0 {
		matchTimeout = DefaultMatchTimeout
	}
	return &Engine{
		logger:       logger.With("component", "regex_engine"),
		matchTimeout: matchTimeout,
	}
}

type compiledScript struct {
	script      Script
	re          *regexp2.Regexp
	replacement string
	count       int
}

// Apply runs every enabled script, in ascending Order, over the content of
// each message. A script that fails to compile or fails during replacement
// is skipped and reported; the remaining scripts still run. The input slice
// is not modified.
func (e *Engine) Apply(messages []chat.Message, scripts []Script) ([]chat.Message, []Diagnostic) {
	out := make([]chat.Message, len(messages))
	copy(out, messages)

	active := Sorted(scripts)
	if len(active) == 0 || len(out) == 0 {
		return out, nil
	}

	var diags []Diagnostic
	compiled := make([]compiledScript, 0, len(active))
	for _, s := range active {
		cs, err := e.compile(s)
		if err != nil {
			diags = append(diags, Diagnostic{Script: s.Name(), MessageIndex: -1, Err: err})
			e.logger.Warn("Skipping regex script that failed to compile", "script", s.Name(), "error", err)
			recordFailure(failureCompile)
			continue
		}
		compiled = append(compiled, cs)
	}

	for i := range out {
		for _, cs := range compiled {
			if !cs.script.appliesTo(out[i].Role) {
				continue
			}
			replaced, err := cs.re.Replace(out[i].Content, cs.replacement, -1, cs.count)
			if err != nil {
				err = e.replaceError(err)
				diags = append(diags, Diagnostic{Script: cs.script.Name(), MessageIndex: i, Err: err})
				e.logger.Warn("Regex script failed during replace",
					"script", cs.script.Name(),
					"message_index", i,
					"error", err,
				)
				recordFailure(failureReplace)
				continue
			}
			out[i].Content = replaced
		}
	}

	return out, diags
}

// replaceError drops the message text that regexp2 embeds in its errors,
// since diagnostics end up in logs and proxy_logs.
func (e *Engine) replaceError(err error) error {
	msg := err.Error()
	if strings.HasPrefix(msg, "match timeout") {
		return fmt.Errorf("%w after %v", ErrMatchTimeout, e.matchTimeout)
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	return fmt.Errorf("replace failed: %s", msg)
}

// Check compiles s the way Apply would and returns the compile error, if any.
func (e *Engine) Check(s Script) error {
	_, err := e.compile(s)
	return err
}

func (e *Engine) compile(s Script) (compiledScript, error) {
	pattern, flags := NormalizePattern(s.Pattern, s.Flags)
	if pattern == "" {
		return compiledScript{}, fmt.Errorf("empty pattern")
	}

	// ECMAScript keeps \w and \d ASCII-only and $ end-only, as user
	// rules are written for JavaScript.
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	count := 1
	for _, f := range flags {
		switch f {
		case 'g':
			count = -1
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'u', 'y', 'd':
			// No regexp2 equivalent; accepted for compatibility.
		default:
			return compiledScript{}, fmt.Errorf("unknown flag %q", f)
		}
	}

	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return compiledScript{}, fmt.Errorf("compile %q: %w", pattern, err)
	}
	re.MatchTimeout = e.matchTimeout

	return compiledScript{
		script:      s,
		re:          re,
		replacement: translateReplacement(re, s.Replacement),
		count:       count,
	}, nil
}

// translateReplacement converts a JavaScript replacement string into
// regexp2 substitution syntax. "{{match}}" is accepted as an alias for the
// whole match.
func translateReplacement(re *regexp2.Regexp, repl string) string {
	repl = matchAlias.ReplaceAllLiteralString(repl, "$&")

	groups := re.GetGroupNumbers()
	maxGroup := 0
	for _, g := range groups {
		if g > maxGroup {
			maxGroup = g
		}
	}
	hasNamed := false
	for _, name := range re.GetGroupNames() {
		if !isDigits(name) {
			hasNamed = true
			break
		}
	}

	var sb strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '$' || i+1 >= len(repl) {
			if c == '$' {
				sb.WriteString("$$")
			} else {
				sb.WriteByte(c)
			}
			continue
		}

		next := repl[i+1]
		switch {
		case next == '$' || next == '&' || next == '`' || next == '\'':
			sb.WriteByte('$')
			sb.WriteByte(next)
			i++
		case isDigit(next):
			n := int(next - '0')
			width := 1
			if i+2 < len(repl) && isDigit(repl[i+2]) {
				nn := n*10 + int(repl[i+2]-'0')
				if nn >= 1 && nn <= maxGroup {
					n, width = nn, 2
				}
			}
			if n >= 1 && n <= maxGroup {
				fmt.Fprintf(&sb, "${%d}", n)
				i += width
			} else {
				sb.WriteString("$$")
			}
		case next == '<' && hasNamed:
			end := strings.IndexByte(repl[i+2:], '>')
			if end < 0 {
				sb.WriteString("$$")
				continue
			}
			name := repl[i+2 : i+2+end]
			if re.GroupNumberFromName(name) >= 0 {
				sb.WriteString("${" + name + "}")
			}
			i += 2 + end
		default:
			sb.WriteString("$$")
		}
	}
	return sb.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
