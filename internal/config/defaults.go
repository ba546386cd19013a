package config

import "github.com/aspect-cloud/asearch/internal/committee"

const (
	defaultCooldownSeconds = 60
	defaultChunkLimit      = 4096
	defaultMaxHistoryTurns = 10
	defaultDatabasePath    = "asearch.db"

	defaultFastModel      = "gemini-2.0-flash"
	defaultReasoningModel = "gemini-2.5-pro"
	defaultAgentModel     = "gemini-2.0-flash"
)

const defaultFastPrompt = `You are A-Search, a direct and concise assistant. Answer the user's question in plain language. Say when you do not know something instead of guessing.`

const defaultSynthesizerPrompt = `You are the synthesizer of a committee of experts. You receive the user's question and the written opinions of several experts. Merge them into one coherent, well-structured answer. Resolve disagreements explicitly, discard claims only one expert makes without support, and do not mention the committee or the experts in your answer.`

func defaultModes() map[string]ModeConfig {
	low := 0.3
	mid := 0.7
	return map[string]ModeConfig{
		string(committee.ModeFast):      {Model: defaultFastModel, Temperature: &mid},
		string(committee.ModeReasoning): {Model: defaultReasoningModel, Temperature: &low},
		string(committee.ModeAgent):     {Model: defaultAgentModel, Temperature: &low},
	}
}

func defaultPrompts() PromptsConfig {
	return PromptsConfig{
		Fast: defaultFastPrompt,
		Synthesizer: map[string]string{
			string(committee.ModeReasoning): defaultSynthesizerPrompt,
			string(committee.ModeAgent):     defaultSynthesizerPrompt,
		},
	}
}

// defaultExperts is the built-in roster: three reasoning experts that
// also serve in agent mode, plus seven agent-only experts, several of
// them search-enabled.
func defaultExperts() []committee.ExpertDefinition {
	both := []committee.Mode{committee.ModeReasoning, committee.ModeAgent}
	agent := []committee.Mode{committee.ModeAgent}

	return []committee.ExpertDefinition{
		{
			ID:           "analyst",
			Name:         "Analyst",
			SystemPrompt: "You are a first-principles analyst. Break the question into its underlying parts, reason step by step, and state your conclusion with the key assumptions it rests on. If the question cannot be answered from reasoning alone, say so briefly.",
			Modes:        both,
		},
		{
			ID:           "skeptic",
			Name:         "Skeptic",
			SystemPrompt: "You are a professional skeptic. Look for hidden assumptions, common misconceptions, and ways the obvious answer could be wrong. If after scrutiny the obvious answer holds, say so plainly.",
			Modes:        both,
		},
		{
			ID:           "pragmatist",
			Name:         "Pragmatist",
			SystemPrompt: "You are a pragmatist. Give the most useful practical answer: what the asker should actually do or believe, with caveats kept short. Prefer concrete recommendations over survey-style completeness.",
			Modes:        both,
		},
		{
			ID:           "researcher",
			Name:         "Researcher",
			SystemPrompt: "You are a researcher with access to a search tool. When the question involves facts you are not fully certain about, search first, then answer citing what the search returned. If the search returns nothing useful, answer from your own knowledge and say the lookup was inconclusive.",
			UsesSearch:   true,
			Modes:        agent,
		},
		{
			ID:           "fact-checker",
			Name:         "Fact checker",
			SystemPrompt: "You are a fact checker. Identify every factual claim the question presupposes and verify each one from your own knowledge. Flag anything dubious. Do not answer beyond the factual verification.",
			Modes:        agent,
		},
		{
			ID:           "historian",
			Name:         "Historian",
			SystemPrompt: "You are a historian with access to a search tool. Place the question in its historical context: how the situation arose, what changed over time, and what precedents matter. Search when exact dates or names are needed.",
			UsesSearch:   true,
			Modes:        agent,
		},
		{
			ID:           "statistician",
			Name:         "Statistician",
			SystemPrompt: "You are a statistician. Consider base rates, sample sizes, selection effects, and uncertainty. Quantify where possible and state confidence honestly. If the question has no quantitative angle, abstain by replying with an empty answer.",
			Modes:        agent,
		},
		{
			ID:           "contrarian",
			Name:         "Contrarian",
			SystemPrompt: "You are a contrarian. Argue the strongest defensible case against the mainstream answer. If no serious counter-case exists, concede that in one sentence.",
			Modes:        agent,
		},
		{
			ID:           "explainer",
			Name:         "Explainer",
			SystemPrompt: "You are an educator. Answer so that an intelligent novice understands: define terms, use one concrete example, and keep jargon out.",
			Modes:        agent,
		},
		{
			ID:           "current-affairs",
			Name:         "Current affairs",
			SystemPrompt: "You are a current-affairs correspondent with access to a search tool. If the question may depend on recent developments, search for the latest state before answering, and date your claims.",
			UsesSearch:   true,
			Modes:        agent,
		},
	}
}

// applyDefaults fills unset fields in place.
func applyDefaults(cfg *Config) {
	if cfg.Gemini.CooldownSeconds == 0 {
		cfg.Gemini.CooldownSeconds = defaultCooldownSeconds
	}
	if cfg.Gemini.ChunkLimit == 0 {
		cfg.Gemini.ChunkLimit = defaultChunkLimit
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Database.MaxHistoryTurns == 0 {
		cfg.Database.MaxHistoryTurns = defaultMaxHistoryTurns
	}
	if cfg.Modes == nil {
		cfg.Modes = defaultModes()
	} else {
		for name, mc := range defaultModes() {
			if _, ok := cfg.Modes[name]; !ok {
				cfg.Modes[name] = mc
			}
		}
	}
	if len(cfg.Experts) == 0 {
		cfg.Experts = defaultExperts()
	}
	if cfg.Prompts.Fast == "" {
		cfg.Prompts.Fast = defaultFastPrompt
	}
	if cfg.Prompts.Synthesizer == nil {
		cfg.Prompts.Synthesizer = defaultPrompts().Synthesizer
	}
}
