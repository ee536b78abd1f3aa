// Package protocol defines the JSON wire protocol spoken over the agent
// websocket: a typed envelope with a one-variant payload union.
package protocol

import (
	"github.com/google/uuid"
)

type Kind string

const (
	KindHandshake Kind = "Handshake"
	KindMessage   Kind = "Message"
	KindChunk     Kind = "Chunk"
	KindReasoning Kind = "Reasoning"
	KindTool      Kind = "Tool"
	KindStatus    Kind = "Status"
	KindHeartbeat Kind = "Heartbeat"
	KindCommand   Kind = "Command"
	KindError     Kind = "Error"
	KindUsage     Kind = "Usage"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
)

// Handshake echoes the session identifiers back to the client as the first
// server frame.
type Handshake struct {
	ProjectID string
	ChatID    string
}

// Heartbeat is an empty keep-alive payload.
type Heartbeat struct{}

// ErrorDetail carries a machine-readable code, a human message, and a
// generated correlation id.
type ErrorDetail struct {
	ErrorCode string
	Message   string
	Data      map[string]any
	UUID      string
}

// Content is a chat text payload. MessageType is "text" for ordinary
// messages.
type Content struct {
	Role        Role           `json:"role"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ToolCall struct {
	ID        string         `json:"id"`
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolMessage struct {
	ToolCalls []ToolCall `json:"tool_calls"`
	Reasoning string     `json:"reasoning,omitempty"`
}

type CommandType string

const (
	CommandSet    CommandType = "Set"
	CommandGet    CommandType = "Get"
	CommandList   CommandType = "List"
	CommandStatus CommandType = "Status"
)

// Set-command argument keys. The upper-case spellings are accepted on the
// wire for compatibility with older clients.
type SetArgKey string

const (
	SetKeyRole             SetArgKey = "role"
	SetKeyModel            SetArgKey = "model"
	SetKeyDatabase         SetArgKey = "database"
	SetKeyDatabaseUpper    SetArgKey = "Database"
	SetKeyDatabaseURL      SetArgKey = "database_url"
	SetKeyDatabaseURLUpper SetArgKey = "DATABASE_URL"
)

// IsDatabase reports whether the key targets the chat's data source.
func (k SetArgKey) IsDatabase() bool {
	switch k {
	case SetKeyDatabase, SetKeyDatabaseUpper, SetKeyDatabaseURL, SetKeyDatabaseURLUpper:
		return true
	}
	return false
}

type SetArgument struct {
	Key   SetArgKey `json:"key"`
	Value string    `json:"value"`
}

// Command is a typed control instruction. Set carries the argument for the
// Set command; for other command types the raw arguments are preserved in
// Args.
type Command struct {
	Command CommandType
	Set     *SetArgument
	Args    map[string]any
}

// Payload holds at most one populated variant.
type Payload struct {
	Heartbeat *Heartbeat
	Handshake *Handshake
	Error     *ErrorDetail
	Message   *Content
	Reasoning *Content
	Tool      *ToolMessage
	Command   *Command
}

type Variant string

const (
	VariantHeartbeat Variant = "heartbeat"
	VariantHandshake Variant = "handshake"
	VariantError     Variant = "error"
	VariantMessage   Variant = "message"
	VariantReasoning Variant = "reasoning"
	VariantTool      Variant = "tool"
	VariantCommand   Variant = "command"
	VariantUnknown   Variant = "unknown"
)

// Variant classifies the payload by checking populated fields in fixed
// priority order: heartbeat, handshake, error, message, reasoning, tool,
// command. First match wins; an empty payload is VariantUnknown (callers
// treat unknown as a protocol error, not a decode failure).
func (p *Payload) Variant() Variant {
	switch {
	case p.Heartbeat != nil:
		return VariantHeartbeat
	case p.Handshake != nil:
		return VariantHandshake
	case p.Error != nil:
		return VariantError
	case p.Message != nil:
		return VariantMessage
	case p.Reasoning != nil:
		return VariantReasoning
	case p.Tool != nil:
		return VariantTool
	case p.Command != nil:
		return VariantCommand
	}
	return VariantUnknown
}

// Message is the wire envelope.
type Message struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
	From    string  `json:"from"`
	To      string  `json:"to"`
}

// New builds an envelope with a generated id.
func New(kind Kind, payload Payload, from, to string) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: payload,
		From:    from,
		To:      to,
	}
}

// NewHandshake builds the server's opening frame for a session.
func NewHandshake(projectID, chatID, from, to string) *Message {
	return New(KindHandshake, Payload{
		Handshake: &Handshake{ProjectID: projectID, ChatID: chatID},
	}, from, to)
}

// NewText builds a Message-kind frame carrying chat text.
func NewText(role Role, content, from, to string) *Message {
	return New(KindMessage, Payload{
		Message: &Content{Role: role, MessageType: "text", Content: content},
	}, from, to)
}

// NewHeartbeat builds a keep-alive frame.
func NewHeartbeat(from, to string) *Message {
	return New(KindHeartbeat, Payload{Heartbeat: &Heartbeat{}}, from, to)
}

// NewError builds an Error-kind frame addressed server→client. Each error
// carries its own correlation uuid in addition to the envelope id.
func NewError(code, message string, data map[string]any) *Message {
	return New(KindError, Payload{
		Error: &ErrorDetail{
			ErrorCode: code,
			Message:   message,
			Data:      data,
			UUID:      uuid.NewString(),
		},
	}, "server", "client")
}
