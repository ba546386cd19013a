package committee

import (
	"context"
	"log/slog"

	"github.com/aspect-cloud/asearch/internal/provider/gemini"
	"github.com/aspect-cloud/asearch/internal/search"
)

// Bridge completes the two-round search protocol for one expert call:
// execute the requested lookup, extend the conversation with the tool
// round, and re-submit for the expert's final opinion.
type Bridge struct {
	completer Completer
	searcher  Searcher
	logger    *slog.Logger
}

// NewBridge creates a tool bridge.
func NewBridge(completer Completer, searcher Searcher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{completer: completer, searcher: searcher, logger: logger}
}

// Run resolves a search tool call issued in response to req. It returns
// the expert's final result and the query that was used. An empty query
// aborts the contribution (nil result); a failed lookup degrades to a
// "no result" tool response and the protocol continues.
func (b *Bridge) Run(ctx context.Context, req gemini.Request, call *gemini.FunctionCall) (*gemini.Result, string, error) {
	query := call.StringArg("query")
	if query == "" {
		b.logger.Warn("search call without query, dropping expert contribution")
		return nil, "", nil
	}

	resultText := b.lookup(ctx, query)

	// Extend the conversation in protocol order: the original user turn
	// (when this round had one), the model's tool call, the tool result.
	history := make([]gemini.Content, 0, len(req.History)+3)
	history = append(history, req.History...)
	if len(req.UserParts) > 0 {
		history = append(history, gemini.Content{Role: gemini.RoleUser, Parts: req.UserParts})
	}
	history = append(history,
		gemini.Content{
			Role:  gemini.RoleModel,
			Parts: []gemini.Part{{FunctionCall: call}},
		},
		gemini.Content{
			Role: gemini.RoleTool,
			Parts: []gemini.Part{{
				FunctionResponse: &gemini.FunctionResponse{
					Name:     SearchToolName,
					Response: map[string]any{"result": resultText},
				},
			}},
		},
	)

	second := gemini.Request{
		Model:        req.Model,
		History:      history,
		UserParts:    nil, // no new user turn in round two
		SystemPrompt: req.SystemPrompt,
		Tools:        req.Tools,
		Generation:   req.Generation,
	}

	res, err := b.completer.Complete(ctx, second)
	if err != nil {
		return nil, query, err
	}
	return res, query, nil
}

// lookup fetches and formats the instant answer. Search failures degrade
// to NoResultText instead of propagating.
func (b *Bridge) lookup(ctx context.Context, query string) string {
	answer, err := b.searcher.InstantAnswer(ctx, query)
	if err != nil {
		b.logger.Warn("search failed, degrading to empty result", "query", query, "err", err)
		return search.NoResultText
	}
	return search.Format(answer)
}
