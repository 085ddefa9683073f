package flow

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Config is the read-only configuration surface the engine consumes. It maps
// the nested "workflow" section of a pipeline configuration; loading and
// merging config files is the caller's concern.
type Config struct {
	// CheckExpectedOutputs enables existence checks on expected output
	// paths when deciding whether results can be reused. When disabled,
	// only skipped stages are trusted to have produced prior outputs.
	CheckExpectedOutputs bool `mapstructure:"check_expected_outputs"`

	// SkipSamplesWithMissingInput permanently deactivates a target when a
	// required-but-skipped stage is missing expected outputs for it,
	// instead of failing the run.
	SkipSamplesWithMissingInput bool `mapstructure:"skip_samples_with_missing_input"`

	// SkipSamplesStages maps a stage name to target IDs that must be
	// skipped for that stage only.
	SkipSamplesStages map[string][]string `mapstructure:"skip_samples_stages"`

	// AllowMissingOutputsForStages lists skipped stages whose missing
	// expected outputs are tolerated (reused optimistically).
	AllowMissingOutputsForStages []string `mapstructure:"allow_missing_outputs_for_stages"`

	// AssumeOutputsExistForStages lists implicit stages whose outputs are
	// trusted to exist without checks.
	AssumeOutputsExistForStages []string `mapstructure:"assume_outputs_exist_for_stages"`

	// SkipStages lists stages that are globally skipped; the resolver does
	// not expand their own dependencies.
	SkipStages []string `mapstructure:"skip_stages"`

	// FirstStage and LastStage truncate the resolved stage window. Names
	// are matched case-insensitively; unknown names are fatal.
	FirstStage string `mapstructure:"first_stage"`
	LastStage  string `mapstructure:"last_stage"`

	// SequencingType, when set, is added to job attributes.
	SequencingType string `mapstructure:"sequencing_type"`
}

// ConfigFromMap decodes a string-keyed nested map into a Config. When the
// map has a "workflow" section, that section is decoded; otherwise the map
// itself is. This matches the shape produced by TOML/YAML config loaders.
func ConfigFromMap(m map[string]interface{}) (Config, error) {
	var cfg Config
	section := m
	if sub, ok := m["workflow"]; ok {
		subMap, ok := sub.(map[string]interface{})
		if !ok {
			return cfg, fmt.Errorf("config section %q is not a map", "workflow")
		}
		section = subMap
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(section); err != nil {
		return cfg, fmt.Errorf("failed to decode workflow config: %w", err)
	}
	return cfg, nil
}

// skipTargetsFor returns the per-target skip list for a stage name.
func (c Config) skipTargetsFor(stageName string) []string {
	if c.SkipSamplesStages == nil {
		return nil
	}
	return c.SkipSamplesStages[stageName]
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
