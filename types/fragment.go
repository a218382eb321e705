//nolint:revive // types is a common Go package naming convention
package types

// FragmentKind is the classification of a parsed upstream document.
type FragmentKind string

// Fragment kinds, in classification priority order.
const (
	FragmentFunctionCall     FragmentKind = "function_call"
	FragmentFunctionResponse FragmentKind = "function_response"
	FragmentThought          FragmentKind = "thought"
	FragmentTextDelta        FragmentKind = "text_delta"
	FragmentMetadata         FragmentKind = "metadata"
	FragmentUnknown          FragmentKind = "unknown"
)

// Document is one complete JSON object recovered from the upstream byte stream.
type Document struct {
	// Raw is the exact object text, owned by the document.
	Raw []byte
	// Value is the decoded object.
	Value map[string]any
	// Offset is the stream byte offset of the opening brace.
	Offset int64
}

// Fragment is a classified document.
type Fragment struct {
	Kind FragmentKind
	Doc  Document
	// Text is the delta for text and thought fragments.
	Text string
	// Title is the thought title or category. Empty continues the open thought.
	Title string
	// Final marks a text fragment sent with partial=false. Such a fragment
	// may repeat text already streamed as partial deltas.
	Final bool
	// Author is the producing agent, when the upstream names one.
	Author   string
	Call     *FunctionCall
	Response *FunctionResponse
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is the result of a tool invocation.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Response any    `json:"response,omitempty"`
}
