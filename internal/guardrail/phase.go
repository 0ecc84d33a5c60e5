package guardrail

// Phase is one of the four fixed interception points in a request's
// lifecycle. The set is closed.
type Phase string

const (
	PhasePreRequest     Phase = "pre_request"
	PhasePostResponse   Phase = "post_response"
	PhasePreToolInput   Phase = "pre_tool_input"
	PhasePostToolOutput Phase = "post_tool_output"
)

// AllPhases lists every phase in lifecycle order.
var AllPhases = []Phase{
	PhasePreRequest,
	PhasePreToolInput,
	PhasePostToolOutput,
	PhasePostResponse,
}

// Valid reports whether p is a member of the closed phase set.
func (p Phase) Valid() bool {
	switch p {
	case PhasePreRequest, PhasePostResponse, PhasePreToolInput, PhasePostToolOutput:
		return true
	default:
		return false
	}
}
