package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/aspect-cloud/asearch/internal/committee"
)

// envVarPattern matches ${VAR_NAME} references in string values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the config file at path, resolves ${VAR} references,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := resolveEnvVars(string(data))

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// resolveEnvVars replaces all ${VAR_NAME} patterns in s with the
// corresponding environment variable values. Unset variables resolve to "".
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1] // strip ${ and }
		return os.Getenv(varName)
	})
}

// validate checks that all required fields are present and consistent.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Slack.BotToken == "" {
		errs = append(errs, "slack.botToken is required")
	}
	if cfg.Slack.AppToken == "" {
		errs = append(errs, "slack.appToken is required")
	}
	if len(cfg.Gemini.APIKeys) == 0 {
		errs = append(errs, "gemini.apiKeys must list at least one key")
	}
	for i, k := range cfg.Gemini.APIKeys {
		if k == "" {
			errs = append(errs, fmt.Sprintf("gemini.apiKeys[%d] is empty", i))
		}
	}

	for _, mode := range []committee.Mode{committee.ModeFast, committee.ModeReasoning, committee.ModeAgent} {
		mc, ok := cfg.Modes[string(mode)]
		if !ok {
			errs = append(errs, fmt.Sprintf("modes.%s is missing", mode))
			continue
		}
		if mc.Model == "" {
			errs = append(errs, fmt.Sprintf("modes.%s.model is required", mode))
		}
	}

	seen := make(map[string]bool)
	for i, e := range cfg.Experts {
		if e.ID == "" {
			errs = append(errs, fmt.Sprintf("experts[%d].id is required", i))
			continue
		}
		if seen[e.ID] {
			errs = append(errs, fmt.Sprintf("experts[%d]: duplicate id %q", i, e.ID))
		}
		seen[e.ID] = true
		if e.SystemPrompt == "" {
			errs = append(errs, fmt.Sprintf("experts[%d] (%s): systemPrompt is required", i, e.ID))
		}
		if len(e.Modes) == 0 {
			errs = append(errs, fmt.Sprintf("experts[%d] (%s): modes is required", i, e.ID))
		}
	}

	for _, mode := range []committee.Mode{committee.ModeReasoning, committee.ModeAgent} {
		if countInMode(cfg.Experts, mode) == 0 {
			errs = append(errs, fmt.Sprintf("no experts serve mode %s", mode))
		}
		if cfg.Prompts.Synthesizer[string(mode)] == "" {
			errs = append(errs, fmt.Sprintf("prompts.synthesizer.%s is required", mode))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("missing required fields:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func countInMode(experts []committee.ExpertDefinition, mode committee.Mode) int {
	n := 0
	for i := range experts {
		if experts[i].InMode(mode) {
			n++
		}
	}
	return n
}
