package committee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aspect-cloud/asearch/internal/keypool"
	"github.com/aspect-cloud/asearch/internal/provider/gemini"
)

// Orchestrator runs the committee protocol for the multi-expert modes.
// One instance serves the whole process; every run is independent.
type Orchestrator struct {
	completer Completer
	bridge    *Bridge
	experts   []ExpertDefinition
	synth     map[Mode]string // mode → synthesizer system prompt
	params    map[Mode]ModeParams
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator creates an orchestrator over the configured expert
// roster. The roster, the synthesizer prompts, and the per-mode model
// parameters are configuration, not logic: changing the committee means
// changing config, not code.
func NewOrchestrator(
	completer Completer,
	bridge *Bridge,
	experts []ExpertDefinition,
	synthPrompts map[Mode]string,
	params map[Mode]ModeParams,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		completer: completer,
		bridge:    bridge,
		experts:   experts,
		synth:     synthPrompts,
		params:    params,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one committee run: fan out to every expert configured for
// the mode, collect opinions, and synthesize them into one answer.
//
// Each expert's failure is local: errors, missing credentials, and empty
// results count as abstentions and never abort the other experts. Only
// the synthesizer call propagates an error.
func (o *Orchestrator) Run(
	ctx context.Context,
	mode Mode,
	history []gemini.Content,
	userParts []gemini.Part,
	onProgress ProgressFunc,
) (*RunResult, error) {
	runID := uuid.NewString()[:8]
	log := o.logger.With("run", runID, "mode", string(mode))

	roster := o.roster(mode)
	if len(roster) == 0 {
		return nil, fmt.Errorf("committee: no experts configured for mode %q", mode)
	}
	mp, ok := o.params[mode]
	if !ok {
		return nil, fmt.Errorf("committee: no model parameters for mode %q", mode)
	}

	log.Info("run started", "experts", len(roster), "state", StateExpertsRunning.String())

	// Fan out. Results land at the expert's roster index so display order
	// always matches configuration order, regardless of completion order.
	opinions := make([]Opinion, len(roster))
	var wg sync.WaitGroup
	for i, def := range roster {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notify(onProgress, Progress{Stage: StageExpert, Expert: i + 1, Total: len(roster)})
			opinions[i] = o.runExpert(ctx, log, mp, def, history, userParts, i+1, len(roster), onProgress)
		}()
	}
	wg.Wait()

	var queries []string
	var usable int
	for _, op := range opinions {
		if op.Text != "" {
			usable++
		}
		if op.SearchQuery != "" {
			queries = append(queries, op.SearchQuery)
		}
	}

	if usable == 0 {
		log.Warn("all experts abstained", "state", StateNoOpinions.String())
		return &RunResult{
			State:    StateNoOpinions,
			Opinions: opinions,
		}, nil
	}

	log.Info("synthesizing", "opinions", usable, "state", StateSynthesizing.String())
	notify(onProgress, Progress{Stage: StageSynthesizing})

	answer, err := o.synthesize(ctx, mode, mp, opinions, userParts)
	if err != nil {
		if errors.Is(err, keypool.ErrNoCredentials) {
			log.Error("synthesizer starved of credentials")
		}
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	log.Info("run finished", "state", StateDone.String())
	return &RunResult{
		Answer:   answer,
		State:    StateDone,
		Opinions: opinions,
		Queries:  distinctSorted(queries),
	}, nil
}

// roster filters the configured experts down to the given mode,
// preserving configuration order.
func (o *Orchestrator) roster(mode Mode) []ExpertDefinition {
	var out []ExpertDefinition
	for _, def := range o.experts {
		if def.InMode(mode) {
			out = append(out, def)
		}
	}
	return out
}

// runExpert consults one expert, applying the two-round search protocol
// when the expert asks for it. Never returns an error: anything that
// goes wrong is an abstention.
func (o *Orchestrator) runExpert(
	ctx context.Context,
	log *slog.Logger,
	mp ModeParams,
	def ExpertDefinition,
	history []gemini.Content,
	userParts []gemini.Part,
	num, total int,
	onProgress ProgressFunc,
) Opinion {
	op := Opinion{ExpertID: def.ID, ExpertName: def.Name}
	elog := log.With("expert", def.ID)

	req := gemini.Request{
		Model:        mp.Model,
		History:      history,
		UserParts:    userParts,
		SystemPrompt: def.SystemPrompt,
		Generation:   mp.Generation,
	}
	if def.UsesSearch {
		req.Tools = []gemini.Tool{searchTool}
	}

	res, err := o.completer.Complete(ctx, req)
	if err != nil {
		elog.Warn("expert abstained", "err", err)
		return op
	}

	if res.HasToolCall() {
		if !def.UsesSearch || res.ToolCall.Name != SearchToolName {
			elog.Warn("unexpected tool call, dropping", "tool", res.ToolCall.Name)
			return op
		}
		notify(onProgress, Progress{Stage: StageSearching, Expert: num, Total: total})
		final, query, err := o.bridge.Run(ctx, req, res.ToolCall)
		op.SearchQuery = query
		if err != nil {
			elog.Warn("expert abstained after search round", "err", err)
			return op
		}
		if final == nil {
			return op
		}
		res = final
	}

	// A result with neither text nor tool call is an abstention.
	op.Text = res.Text
	if op.Text == "" {
		elog.Info("expert produced no usable opinion", "finish", string(res.FinishReason))
	}
	return op
}

// synthesize runs the fan-in call over the combined opinions. The
// synthesizer never receives tool declarations.
func (o *Orchestrator) synthesize(
	ctx context.Context,
	mode Mode,
	mp ModeParams,
	opinions []Opinion,
	userParts []gemini.Part,
) (*gemini.Result, error) {
	req := gemini.Request{
		Model:        mp.Model,
		UserParts:    []gemini.Part{gemini.TextPart(buildSynthesisInput(opinions, userParts))},
		SystemPrompt: o.synth[mode],
		Generation:   mp.Generation,
	}
	return o.completer.Complete(ctx, req)
}

// buildSynthesisInput concatenates the non-empty opinions in roster
// order, each under its expert's display name, preceded by the user's
// question.
func buildSynthesisInput(opinions []Opinion, userParts []gemini.Part) string {
	var sections []string
	for _, op := range opinions {
		if op.Text == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", op.ExpertName, op.Text))
	}

	var b strings.Builder
	if q := partsText(userParts); q != "" {
		fmt.Fprintf(&b, "User question:\n%s\n\n", q)
	}
	b.WriteString("Expert opinions:\n\n")
	b.WriteString(strings.Join(sections, "\n\n---\n\n"))
	return b.String()
}

func partsText(parts []gemini.Part) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// distinctSorted deduplicates queries; sorted so disclosure output is
// deterministic regardless of completion order.
func distinctSorted(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	var out []string
	for _, q := range queries {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

func notify(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}
