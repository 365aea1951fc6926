package storage

import (
	"github.com/runixer/janiproxy/internal/preset"
	"github.com/runixer/janiproxy/internal/regex"
)

// PresetRepository persists chat completion presets by name.
type PresetRepository interface {
	SavePreset(p *preset.Preset) error
	GetPreset(name string) (*preset.Preset, error)
	ListPresets() ([]PresetSummary, error)
	DeletePreset(name string) error
}

// RegexRepository persists the standalone regex script list.
type RegexRepository interface {
	ReplaceRegexScripts(scripts []regex.Script) error
	GetRegexScripts() ([]regex.Script, error)
}

// ProxyLogRepository records proxied requests for debugging.
type ProxyLogRepository interface {
	AddProxyLog(log ProxyLog) error
	GetProxyLogs(limit int) ([]ProxyLog, error)
	CleanupProxyLogs(keep int) (int64, error)
}

// MaintenanceRepository handles database maintenance operations.
type MaintenanceRepository interface {
	GetDBSize() (int64, error)
	GetTableSizes() ([]TableSize, error)
}
