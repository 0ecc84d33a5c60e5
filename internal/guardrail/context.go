package guardrail

// Message is one role/content pair in the request's message history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Modification is one append-only audit entry recorded by a module.
// Descriptions must never contain the sensitive values themselves.
type Modification struct {
	Phase       Phase  `json:"phase"`
	Field       string `json:"field"`
	Description string `json:"description"`
}

// Context is the shared, per-request mutable record threaded through the
// pipeline. One instance exists per inbound request, owned exclusively by
// the pipeline invocation for that request, and is discarded with it.
type Context struct {
	// RequestID is the opaque request identifier. Immutable.
	RequestID string

	// Prompt is the inbound prompt text, mutable during pre_request.
	Prompt string

	// Messages is the ordered role/content history. The most recent entry
	// is kept in sync with Prompt via SetPrompt.
	Messages []Message

	// ToolName, ToolArgs and ToolResult carry tool-call payloads for the
	// tool phases. ToolArgs and ToolResult hold either structured data
	// (map[string]any) or raw text.
	ToolName   string
	ToolArgs   any
	ToolResult any

	// Response is the backend response text for post_response.
	Response string

	// ClientKey identifies the calling client for rate limiting. Optional.
	ClientKey string

	// Modifications is the append-only audit log for this request.
	Modifications []Modification

	meta map[string]any
}

// NewContext creates a request context with the given immutable request id.
func NewContext(requestID string) *Context {
	return &Context{RequestID: requestID}
}

// SetPrompt overwrites the prompt and keeps the most recent message entry
// in sync with it.
func (c *Context) SetPrompt(prompt string) {
	c.Prompt = prompt
	if n := len(c.Messages); n > 0 {
		c.Messages[n-1].Content = prompt
	}
}

// Record appends an audit entry. The description must describe the change
// without reproducing any sensitive value.
func (c *Context) Record(phase Phase, field, description string) {
	c.Modifications = append(c.Modifications, Modification{
		Phase:       phase,
		Field:       field,
		Description: description,
	})
}
