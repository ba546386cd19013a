// Package committee implements the committee-of-experts pipeline: fan-out
// to independently prompted expert agents, an optional two-round search
// protocol per expert, and fan-in synthesis of the collected opinions
// into one answer. It is provider-agnostic and communicates through the
// Completer and Searcher interfaces.
package committee

import (
	"context"
	"encoding/json"

	"github.com/aspect-cloud/asearch/internal/provider/gemini"
	"github.com/aspect-cloud/asearch/internal/search"
)

// Mode selects the answering pipeline.
type Mode string

const (
	// ModeFast answers with a single agent and no committee.
	ModeFast Mode = "fast"
	// ModeReasoning consults a small committee (three experts).
	ModeReasoning Mode = "reasoning"
	// ModeAgent consults the full committee (ten experts).
	ModeAgent Mode = "agent"
)

// SearchToolName is the function name declared to experts that may search.
const SearchToolName = "search"

// searchTool is the single tool declaration offered to search-enabled
// experts. Fact-check experts and the synthesizer never receive it.
var searchTool = gemini.Tool{
	FunctionDeclarations: []gemini.FunctionDeclaration{
		{
			Name:        SearchToolName,
			Description: "Look up a short factual query in a web search index. Use for facts you are not certain about.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {
						"type": "string",
						"description": "A concise, factual search query, e.g. \"capital of France\"."
					}
				},
				"required": ["query"]
			}`),
		},
	},
}

// ExpertDefinition is one named committee role. Immutable configuration,
// loaded once at startup.
type ExpertDefinition struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	UsesSearch   bool   `json:"usesSearch"`
	Modes        []Mode `json:"modes"`
}

// InMode reports whether the expert participates in the given mode.
func (d *ExpertDefinition) InMode(mode Mode) bool {
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Opinion is the outcome of running one expert against one query. An
// empty Text is an abstention, not an error.
type Opinion struct {
	ExpertID    string
	ExpertName  string
	Text        string
	SearchQuery string
}

// Completer performs one completion call. The production implementation
// wraps the Gemini client in a credential-rotating retry loop; tests use
// fakes.
type Completer interface {
	Complete(ctx context.Context, req gemini.Request) (*gemini.Result, error)
}

// Searcher performs one instant-answer lookup.
type Searcher interface {
	InstantAnswer(ctx context.Context, query string) (*search.InstantAnswer, error)
}

// ModeParams bundles the per-mode model selector and sampling parameters.
type ModeParams struct {
	Model      string
	Generation *gemini.GenerationConfig
}

// RunState tracks the orchestration state machine for one run.
type RunState int

const (
	StateStart RunState = iota
	StateExpertsRunning
	StateSynthesizing
	StateDone
	StateNoOpinions
)

func (s RunState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateExpertsRunning:
		return "experts_running"
	case StateSynthesizing:
		return "synthesizing"
	case StateDone:
		return "done"
	case StateNoOpinions:
		return "no_opinions"
	default:
		return "unknown"
	}
}

// Stage identifies a progress event during a run.
type Stage int

const (
	StageExpert Stage = iota
	StageSearching
	StageSynthesizing
)

// Progress is reported to the optional progress callback so the
// presentation layer can show what the committee is doing.
type Progress struct {
	Stage Stage
	// Expert is the 1-based index of the expert being consulted, set for
	// StageExpert and StageSearching.
	Expert int
	Total  int
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(Progress)

// RunResult is the outcome of one committee run.
type RunResult struct {
	// Answer is the synthesizer's result. Nil when State is
	// StateNoOpinions.
	Answer *gemini.Result
	// State is the terminal state of the run (StateDone or
	// StateNoOpinions).
	State RunState
	// Opinions holds one entry per consulted expert in configuration
	// order, including abstentions (empty Text).
	Opinions []Opinion
	// Queries is the sorted set of distinct search queries used by any
	// expert, for disclosure alongside the answer.
	Queries []string
}
