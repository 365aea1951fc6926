package preset

import (
	"errors"
	"fmt"
)

// Fallbacks for sampler fields the preset leaves unset.
const (
	DefaultTemperature      = 1.0
	DefaultTopP             = 1.0
	DefaultMaxTokens        = 4096
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0
)

// Sampler holds the preset's sampling parameters. Nil means "use the
// default"; an explicit zero is kept.
type Sampler struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
}

// SamplerValues is a Sampler with defaults applied.
type SamplerValues struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Resolve applies the documented defaults to unset fields.
func (s Sampler) Resolve() SamplerValues {
	return SamplerValues{
		Temperature:      orDefault(s.Temperature, DefaultTemperature),
		TopP:             orDefault(s.TopP, DefaultTopP),
		MaxTokens:        orDefault(s.MaxTokens, DefaultMaxTokens),
		FrequencyPenalty: orDefault(s.FrequencyPenalty, DefaultFrequencyPenalty),
		PresencePenalty:  orDefault(s.PresencePenalty, DefaultPresencePenalty),
	}
}

func (s Sampler) Validate() error {
	var errs []error
	if s.Temperature != nil && *s.Temperature < 0 {
		errs = append(errs, fmt.Errorf("sampler: temperature must be >= 0, got %v", *s.Temperature))
	}
	if s.TopP != nil && (*s.TopP < 0 || *s.TopP > 1) {
		errs = append(errs, fmt.Errorf("sampler: topP must be within [0, 1], got %v", *s.TopP))
	}
	if s.MaxTokens != nil && *s.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("sampler: maxTokens must be positive, got %d", *s.MaxTokens))
	}
	return errors.Join(errs...)
}

func orDefault[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
