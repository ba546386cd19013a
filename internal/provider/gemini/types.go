// Package gemini provides the HTTP client for the Gemini generateContent
// API with function-calling support, classified errors, and per-model
// circuit breakers. The client performs exactly one remote call per
// invocation; credential rotation and retries belong to the caller.
package gemini

import "encoding/json"

// Roles used in conversation contents. History is expected to contain
// only user and model turns; anything else is dropped when building a
// request.
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// Part is one piece of a content block: text, a function call or its
// response, or a reference to an uploaded file.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// FunctionCall is a structured tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// StringArg returns the named argument as a string, or "" when absent or
// of another type.
func (f *FunctionCall) StringArg(name string) string {
	if f == nil || f.Args == nil {
		return ""
	}
	s, _ := f.Args[name].(string)
	return s
}

// FunctionResponse carries a tool's result back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// FileData references a file previously uploaded through the File API.
type FileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// Content is a role-tagged block of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Tool declares functions the model may call.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable function and its JSON-schema
// parameters.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// GenerationConfig holds sampling parameters. Nil pointers mean
// "use the model default".
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// SafetySetting maps a harm category to a blocking threshold.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// generateRequest is the wire format for models/{model}:generateContent.
type generateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// generateResponse is the wire format of a generateContent response.
type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// Request is the normalized input for one completion call.
type Request struct {
	// Model is the model name, e.g. "gemini-2.5-flash".
	Model string
	// History holds prior turns in original order. Only user and model
	// roles survive into the request; tool turns are kept as-is so the
	// two-round search protocol can extend a conversation.
	History []Content
	// UserParts is the current turn. Nil when re-submitting after a tool
	// round (the tool result is already the last history entry).
	UserParts []Part
	// SystemPrompt is the system instruction text.
	SystemPrompt string
	// Tools lists the function declarations offered to the model.
	// Must stay empty for fact-check experts.
	Tools []Tool
	// Generation overrides sampling parameters when non-nil.
	Generation *GenerationConfig
}

// FinishReason is the normalized outcome of a completion call.
type FinishReason string

const (
	FinishStop      FinishReason = "STOP"
	FinishSafety    FinishReason = "SAFETY"
	FinishEmpty     FinishReason = "EMPTY"
	FinishError     FinishReason = "ERROR"
	FinishExhausted FinishReason = "ALL_CREDENTIALS_EXHAUSTED"
)

// Result is the normalized output of a completion call. Exactly one of
// Text and ToolCall is meaningful: a tool call when the model wants a
// function executed, text otherwise.
type Result struct {
	// Text is the full answer text, all text parts concatenated in order.
	Text string
	// Chunks is Text split at the transport message limit. Always has at
	// least one element when Text is non-empty.
	Chunks []string
	// ToolCall is set when the first content part is a function call.
	ToolCall     *FunctionCall
	FinishReason FinishReason
}

// HasToolCall reports whether the model requested a function invocation.
func (r *Result) HasToolCall() bool {
	return r.ToolCall != nil
}
