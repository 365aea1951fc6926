package janitor

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/runixer/janiproxy/internal/chat"
)

// ParsedData is everything the assembler needs from one inbound request.
//
// The inbound format carries a single persona body for the character; it is
// exposed both as Personality and through Description so that the two
// macros and markers always agree.
type ParsedData struct {
	User        string
	Char        string
	Personality string
	Scenario    string
	Persona     string
	MesExamples string
	ChatHistory []chat.Message
	Model       string

	OriginalParams map[string]json.RawMessage
}

// Description returns the character description, which is the same source
// field as Personality.
func (p ParsedData) Description() string {
	return p.Personality
}

// Stream reports the inbound "stream" flag, false when absent or not a bool.
func (p ParsedData) Stream() bool {
	raw, ok := p.OriginalParams["stream"]
	if !ok {
		return false
	}
	var stream bool
	if err := json.Unmarshal(raw, &stream); err != nil {
		return false
	}
	return stream
}

var (
	usernameTag      = regexp.MustCompile(`(?s)<Username>(.*?)</Username>`)
	scenarioTag      = regexp.MustCompile(`(?s)<Scenario>(.*?)</Scenario>`)
	userPersonaTag   = regexp.MustCompile(`(?s)<UserPersona>(.*?)</UserPersona>`)
	exampleDialogTag = regexp.MustCompile(`(?s)<example_dialogs>(.*?)</example_dialogs>`)

	// The closing tag repeats the character name; findCharPersona pairs them.
	personaOpenTag  = regexp.MustCompile(`<([^<>\r\n]+?)'s Persona>`)
	personaCloseTag = regexp.MustCompile(`</([^<>\r\n]+)'s Persona>`)
)

// Parse extracts the semantic fields from req. It never fails: any field
// whose tag is missing is left empty.
func Parse(req Request) ParsedData {
	data := ParsedData{
		Model:          req.Model,
		OriginalParams: req.Params,
		ChatHistory:    make([]chat.Message, 0, len(req.Messages)),
	}
	if data.OriginalParams == nil {
		data.OriginalParams = map[string]json.RawMessage{}
	}

	if len(req.Messages) > 0 && req.Messages[0].Role == chat.RoleSystem {
		system := req.Messages[0].Content
		data.User = findTag(usernameTag, system)
		data.Scenario = findTag(scenarioTag, system)
		data.Persona = findTag(userPersonaTag, system)
		data.MesExamples = findTag(exampleDialogTag, system)
		data.Char, data.Personality = findCharPersona(system)
	}

	// System content is re-injected from prompt blocks, so every system
	// message is excluded, not only the leading one.
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			continue
		}
		data.ChatHistory = append(data.ChatHistory, m)
	}

	return data
}

func findTag(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func findCharPersona(text string) (name, body string) {
	closes := make(map[string][]int)
	for _, m := range personaCloseTag.FindAllStringSubmatchIndex(text, -1) {
		n := text[m[2]:m[3]]
		closes[n] = append(closes[n], m[0])
	}
	if len(closes) == 0 {
		return "", ""
	}

	// First opening tag that has a matching close after it wins, paired
	// with the nearest such close.
	for _, m := range personaOpenTag.FindAllStringSubmatchIndex(text, -1) {
		n := text[m[2]:m[3]]
		starts := closes[n]
		k := sort.SearchInts(starts, m[1])
		if k < len(starts) {
			return strings.TrimSpace(n), strings.TrimSpace(text[m[1]:starts[k]])
		}
	}
	return "", ""
}
