// Package protocol defines the JSON wire frames exchanged with the coaching
// service over one live websocket. Every frame carries a "type" discriminator;
// unknown inbound types are ignored by clients for forward compatibility.
package protocol

const (
	ProtocolVersion1 = "1"

	// Frame type discriminators.
	TypeSetup        = "setup"
	TypeMediaChunk   = "media_chunk"
	TypeToolResponse = "tool_response"
	TypeSetupAck     = "setup_ack"
	TypeAudio        = "audio"
	TypeInterrupted  = "interrupted"
	TypeToolCall     = "tool_call"
	TypeError        = "error"

	ModalityAudio = "audio"

	// StatusReportTool is the tool name the service invokes to report
	// exercise status.
	StatusReportTool = "report_exercise_status"
)

// AudioFormat describes a negotiated PCM audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// Schema is a minimal JSON-schema shape for tool parameter declarations.
type Schema struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Properties  map[string]Schema `json:"properties,omitempty"`
	Items       *Schema           `json:"items,omitempty"`
	Required    []string          `json:"required,omitempty"`
}

// ToolDeclaration declares a structured tool the service may invoke.
type ToolDeclaration struct {
	Name       string `json:"name"`
	Parameters Schema `json:"parameters"`
}

// ClientSetup is the first frame a client sends after the dial.
type ClientSetup struct {
	Type              string            `json:"type"`
	ProtocolVersion   string            `json:"protocol_version"`
	Model             string            `json:"model,omitempty"`
	SystemInstruction string            `json:"system_instruction"`
	ResponseModality  string            `json:"response_modality"`
	Voice             string            `json:"voice,omitempty"`
	AudioIn           AudioFormat       `json:"audio_in"`
	AudioOut          AudioFormat       `json:"audio_out"`
	Tools             []ToolDeclaration `json:"tools,omitempty"`
}

// ClientMediaChunk carries one captured audio block or video frame.
type ClientMediaChunk struct {
	Type     string `json:"type"`
	Kind     string `json:"kind"` // "audio" | "image"
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// ClientToolResponse acknowledges a tool call.
type ClientToolResponse struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// ServerSetupAck confirms the session is established.
type ServerSetupAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// ServerAudio carries one synthesized speech chunk (pcm_s16le).
type ServerAudio struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64
}

// ServerInterrupted tells the client to flush playback immediately.
type ServerInterrupted struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// ServerToolCall is a structured tool invocation.
type ServerToolCall struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ServerError is a terminal channel error.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StatusReportDeclaration returns the report_exercise_status tool schema the
// client declares at setup.
func StatusReportDeclaration() ToolDeclaration {
	return ToolDeclaration{
		Name: StatusReportTool,
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Schema{
				"exercise_name": {
					Type:        "string",
					Description: "Name of the exercise being performed, or 'Idle' if the user is resting/stopped.",
				},
				"current_reps": {
					Type:        "integer",
					Description: "Cumulative rep count for this specific set. Reset to 0 when the exercise changes.",
				},
				"detected_error": {
					Type:        "string",
					Description: "Specific form error (e.g. 'Hips too low'). Empty string if form is perfect.",
				},
				"correction_suggestion": {
					Type:        "string",
					Description: "Short instruction to fix the error.",
				},
				"is_good_form": {
					Type:        "boolean",
					Description: "True if form is correct, false if mistakes were detected.",
				},
			},
			Required: []string{
				"exercise_name",
				"current_reps",
				"detected_error",
				"correction_suggestion",
				"is_good_form",
			},
		},
	}
}
