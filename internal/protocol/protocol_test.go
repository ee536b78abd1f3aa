package protocol

import (
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"handshake", NewHandshake("p1", "c1", "server", "client")},
		{"text", NewText(RoleUser, "list my tables", "client", "server")},
		{"heartbeat", NewHeartbeat("server", "client")},
		{"error", NewError("agent_error", "boom", nil)},
		{"error_with_data", NewError("agent_error", "boom", map[string]any{"detail": "x"})},
		{
			"command",
			New(KindCommand, Payload{Command: &Command{
				Command: CommandSet,
				Set:     &SetArgument{Key: SetKeyDatabase, Value: "sqlite:///demo.db"},
			}}, "client", "server"),
		},
		{
			"tool",
			New(KindTool, Payload{Tool: &ToolMessage{
				ToolCalls: []ToolCall{{ID: "1", CallID: "c1", Name: "run_sql", Arguments: map[string]any{"sql": "select 1"}}},
				Reasoning: "running query",
			}}, "server", "client"),
		},
		{
			"reasoning",
			New(KindReasoning, Payload{Reasoning: &Content{Role: RoleAssistant, MessageType: "text", Content: "thinking"}}, "server", "client"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.msg)
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, tt.msg)
			}
		})
	}
}

func TestDecode_AliasTolerance(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		variant Variant
		check   func(t *testing.T, m *Message)
	}{
		{
			name:    "lowercase payload keys",
			raw:     `{"id":"1","kind":"Heartbeat","payload":{"heartbeat":{}},"from":"client","to":"server"}`,
			variant: VariantHeartbeat,
		},
		{
			name:    "snake_case handshake fields",
			raw:     `{"id":"1","kind":"Handshake","payload":{"handshake":{"project_id":"p1","chat_id":"c1"}},"from":"client","to":"server"}`,
			variant: VariantHandshake,
			check: func(t *testing.T, m *Message) {
				hs := m.Payload.Handshake
				if hs.ProjectID != "p1" || hs.ChatID != "c1" {
					t.Errorf("handshake = %+v", hs)
				}
			},
		},
		{
			name:    "camelCase handshake fields",
			raw:     `{"id":"1","kind":"Handshake","payload":{"Handshake":{"projectId":"p1","chatId":"c1"}},"from":"client","to":"server"}`,
			variant: VariantHandshake,
		},
		{
			name:    "snake_case error code",
			raw:     `{"id":"1","kind":"Error","payload":{"error":{"error_code":"agent_error","message":"boom","uuid":"u1"}},"from":"server","to":"client"}`,
			variant: VariantError,
			check: func(t *testing.T, m *Message) {
				if m.Payload.Error.ErrorCode != "agent_error" {
					t.Errorf("ErrorCode = %q", m.Payload.Error.ErrorCode)
				}
			},
		},
		{
			name:    "wrapped set command argument",
			raw:     `{"id":"1","kind":"Command","payload":{"Command":{"command":"Set","arguments":{"SetCommandArgument":{"key":"database","value":"sqlite:///demo.db"}}}},"from":"client","to":"server"}`,
			variant: VariantCommand,
			check: func(t *testing.T, m *Message) {
				set := m.Payload.Command.Set
				if set == nil || set.Key != SetKeyDatabase || set.Value != "sqlite:///demo.db" {
					t.Errorf("Set = %+v", set)
				}
			},
		},
		{
			name:    "flat set command argument",
			raw:     `{"id":"1","kind":"Command","payload":{"Command":{"command":"Set","arguments":{"key":"DATABASE_URL","value":"postgres://x"}}},"from":"client","to":"server"}`,
			variant: VariantCommand,
			check: func(t *testing.T, m *Message) {
				set := m.Payload.Command.Set
				if set == nil || !set.Key.IsDatabase() {
					t.Errorf("Set = %+v", set)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := m.Payload.Variant(); got != tt.variant {
				t.Errorf("variant = %q, want %q", got, tt.variant)
			}
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestVariant_PriorityOrder(t *testing.T) {
	// Heartbeat wins over everything else when multiple fields are populated.
	p := Payload{
		Heartbeat: &Heartbeat{},
		Message:   &Content{Role: RoleUser, Content: "x"},
	}
	if got := p.Variant(); got != VariantHeartbeat {
		t.Errorf("variant = %q, want heartbeat", got)
	}

	p = Payload{
		Message: &Content{Role: RoleUser, Content: "x"},
		Command: &Command{Command: CommandSet},
	}
	if got := p.Variant(); got != VariantMessage {
		t.Errorf("variant = %q, want message", got)
	}
}

func TestVariant_UnknownPayload(t *testing.T) {
	m, err := Decode([]byte(`{"id":"1","kind":"Message","payload":{"Mystery":{"a":1}},"from":"client","to":"server"}`))
	if err != nil {
		t.Fatalf("unknown payload should decode, got %v", err)
	}
	if got := m.Payload.Variant(); got != VariantUnknown {
		t.Errorf("variant = %q, want unknown", got)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"id":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestConstructors(t *testing.T) {
	hs := NewHandshake("p1", "c1", "server", "client")
	if hs.Kind != KindHandshake || hs.ID == "" {
		t.Errorf("handshake = %+v", hs)
	}
	if hs.Payload.Handshake.ProjectID != "p1" {
		t.Errorf("ProjectID = %q", hs.Payload.Handshake.ProjectID)
	}

	txt := NewText(RoleSystem, "Database context set to x", "server", "client")
	if txt.Payload.Message.MessageType != "text" {
		t.Errorf("MessageType = %q", txt.Payload.Message.MessageType)
	}

	e := NewError("invalid_payload", "Unsupported message payload.", nil)
	if e.Payload.Error.UUID == "" {
		t.Error("error should carry a correlation uuid")
	}
	e2 := NewError("invalid_payload", "Unsupported message payload.", nil)
	if e.Payload.Error.UUID == e2.Payload.Error.UUID {
		t.Error("error correlation uuids should be unique")
	}
}

func TestSetArgKey_IsDatabase(t *testing.T) {
	for _, k := range []SetArgKey{SetKeyDatabase, SetKeyDatabaseUpper, SetKeyDatabaseURL, SetKeyDatabaseURLUpper} {
		if !k.IsDatabase() {
			t.Errorf("%q should be a database key", k)
		}
	}
	for _, k := range []SetArgKey{SetKeyRole, SetKeyModel, SetArgKey("bogus")} {
		if k.IsDatabase() {
			t.Errorf("%q should not be a database key", k)
		}
	}
}
