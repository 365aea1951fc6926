package macro

import "strings"

func (ev *evaluation) getVar(scope Scope, rest string) (string, bool) {
	name := strings.TrimSpace(rest)
	if name == "" {
		return "", false
	}
	return ev.mc.GetVar(scope, name), true
}

// setVar handles NAME::VALUE. The value keeps everything after the first
// "::", including further separators.
func (ev *evaluation) setVar(scope Scope, rest string) (string, bool) {
	name, value, ok := strings.Cut(rest, "::")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", false
	}
	ev.mc.SetVar(scope, name, value)
	return "", true
}

func (ev *evaluation) addVar(scope Scope, rest string) (string, bool) {
	name, delta, ok := strings.Cut(rest, "::")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", false
	}
	ev.mc.AddVar(scope, name, toNumber(delta))
	return "", true
}

func (ev *evaluation) stepVar(scope Scope, rest string, step float64) (string, bool) {
	name := strings.TrimSpace(rest)
	if name == "" {
		return "", false
	}
	return formatNumber(ev.mc.AddVar(scope, name, step)), true
}
