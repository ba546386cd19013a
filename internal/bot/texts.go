package bot

// Fixed user-facing texts. Everything the bot says outside of model
// output comes from this catalog so the surface stays consistent.
const (
	textThinking         = "Thinking..."
	textConsultingExpert = "Consulting expert %d of %d..."
	textSearching        = "Expert %d is searching the web..."
	textSynthesizing     = "Synthesizing the experts' opinions..."

	textBusy       = "All API credentials are cooling down right now. Please try again in a minute."
	textBlocked    = "The model declined to answer this question."
	textEmpty      = "The model returned an empty answer. Please try rephrasing your question."
	textNoOpinions = "None of the experts produced an opinion. Please try rephrasing your question."
	textError      = "Something went wrong while answering. Please try again."

	textHistoryCleared = "Conversation history cleared."
	textModeSet        = "Mode set to %s."
	textModeUnknown    = "Unknown mode %q. Available modes: fast, reasoning, agent."
	textModeCurrent    = "Current mode: %s. Switch with /mode fast, /mode reasoning or /mode agent."

	textFileStored  = "File received. It will be attached to your next question."
	textFileFailed  = "Could not store the file. Please try sending it again."
	textQueriesUsed = "Search queries used:"

	textHelp = `I answer questions in three modes:
/mode fast - one quick answer
/mode reasoning - a small committee of experts deliberates
/mode agent - the full committee, with web search
/clear - forget our conversation
/help - this message`
)
