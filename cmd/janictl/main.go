// Command janictl inspects and manages the proxy's presets and regex rules,
// and renders requests offline through the same pipeline the server uses.
//
// Usage:
//
//	./janictl preset import my-preset.json
//	./janictl render request.json --preset "My Preset" --explain
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already printed the error
		os.Exit(1)
	}
}
