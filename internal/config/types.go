// Package config loads the A-Search configuration file: a single JSON
// document with ${VAR} environment references, merged over built-in
// defaults and validated before use.
package config

import "github.com/aspect-cloud/asearch/internal/committee"

// Config is the full runtime configuration.
type Config struct {
	Slack    SlackConfig                  `json:"slack"`
	Gemini   GeminiConfig                 `json:"gemini"`
	Database DatabaseConfig               `json:"database"`
	Modes    map[string]ModeConfig        `json:"modes,omitempty"`
	Experts  []committee.ExpertDefinition `json:"experts,omitempty"`
	Prompts  PromptsConfig                `json:"prompts,omitempty"`
}

// SlackConfig carries the Socket Mode app credentials.
type SlackConfig struct {
	BotToken  string `json:"botToken"`            // xoxb- Bot User OAuth Token
	AppToken  string `json:"appToken"`            // xapp- App-Level Token (Socket Mode)
	ChannelID string `json:"channelID,omitempty"` // optional channel filter
}

// GeminiConfig carries the completion API settings.
type GeminiConfig struct {
	// APIKeys is the rotation pool. At least one key is required.
	APIKeys []string `json:"apiKeys"`
	BaseURL string   `json:"baseURL,omitempty"`
	// CooldownSeconds is how long a rate-limited key rests. Default 60.
	CooldownSeconds int `json:"cooldownSeconds,omitempty"`
	// ChunkLimit is the outbound message size cap. Default 4096.
	ChunkLimit int `json:"chunkLimit,omitempty"`
}

// DatabaseConfig locates the SQLite history store.
type DatabaseConfig struct {
	Path string `json:"path,omitempty"` // default asearch.db
	// MaxHistoryTurns is how many user/model pairs are kept. Default 10.
	MaxHistoryTurns int `json:"maxHistoryTurns,omitempty"`
}

// ModeConfig selects the model and sampling parameters for one mode.
type ModeConfig struct {
	Model           string   `json:"model"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// PromptsConfig holds the non-expert system prompts.
type PromptsConfig struct {
	// Fast is the system prompt of the single fast-mode agent.
	Fast string `json:"fast,omitempty"`
	// Synthesizer maps mode name to the synthesis system prompt.
	Synthesizer map[string]string `json:"synthesizer,omitempty"`
}
