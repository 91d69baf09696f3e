package realtime

// Event is a message produced by the conversation session. The set of
// variants is closed; consumers switch over the concrete type in the
// order events were received.
type Event interface {
	isEvent()
}

// SessionCreated signals the server acknowledged the session.
type SessionCreated struct{}

// TranscriptDelta carries streamed transcript text. Final is true for
// completed user-speech transcriptions, false for streamed assistant text.
type TranscriptDelta struct {
	Role  string
	Text  string
	Final bool
}

// ItemCompleted carries a finished conversation item, with any synthesized
// audio accumulated over the item's streamed deltas.
type ItemCompleted struct {
	Item Item
}

// ToolCall signals the assistant requested a tool invocation. The consumer
// executes the tool and answers through SubmitToolResult with the CallID.
type ToolCall struct {
	CallID string
	Name   string
	Args   map[string]any
}

// APIError carries a server-reported error.
type APIError struct {
	Message string
}

// Disconnected signals the session read loop has ended. Err is nil for a
// locally requested close.
type Disconnected struct {
	Err error
}

func (SessionCreated) isEvent()  {}
func (TranscriptDelta) isEvent() {}
func (ItemCompleted) isEvent()   {}
func (ToolCall) isEvent()        {}
func (APIError) isEvent()        {}
func (Disconnected) isEvent()    {}

// Item roles and types observed on completed items.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ItemTypeMessage = "message"
)

// Item is a completed conversation message unit. Only items of type
// "message" carry content. Audio holds raw PCM16 samples when the
// assistant produced speech for this item.
type Item struct {
	ID         string
	Type       string
	Role       string
	Transcript string
	Audio      []int16
}

// ToolDescriptor declares a callable action to the session: a name, a
// natural-language description and a JSON-schema parameter map.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
	Required    []string
}

// SessionConfig configures voice, instructions and tools for a session.
type SessionConfig struct {
	Instructions string
	Voice        string
	Tools        []ToolDescriptor
}
