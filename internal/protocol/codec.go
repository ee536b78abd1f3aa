package protocol

import (
	"encoding/json"
	"fmt"
)

// Decode parses a raw frame into an envelope. Unknown payload shapes do not
// fail decoding; they surface as VariantUnknown.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode protocol message: %w", err)
	}
	return &m, nil
}

// Encode serializes the envelope with canonical field names.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode protocol message: %w", err)
	}
	return data, nil
}

// pick returns the first raw value present under any of the given keys.
// Decoding tolerates both the canonical tag and the plain field name.
func pick(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if p.Heartbeat != nil {
		out["Heartbeat"] = p.Heartbeat
	}
	if p.Handshake != nil {
		out["Handshake"] = p.Handshake
	}
	if p.Error != nil {
		out["Error"] = p.Error
	}
	if p.Message != nil {
		out["Message"] = p.Message
	}
	if p.Reasoning != nil {
		out["Reasoning"] = p.Reasoning
	}
	if p.Tool != nil {
		out["Tool"] = p.Tool
	}
	if p.Command != nil {
		out["Command"] = p.Command
	}
	return json.Marshal(out)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := pick(raw, "Heartbeat", "heartbeat"); ok {
		p.Heartbeat = &Heartbeat{}
		if err := json.Unmarshal(v, p.Heartbeat); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "Handshake", "handshake"); ok {
		p.Handshake = &Handshake{}
		if err := json.Unmarshal(v, p.Handshake); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "Error", "error"); ok {
		p.Error = &ErrorDetail{}
		if err := json.Unmarshal(v, p.Error); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "Message", "message"); ok {
		p.Message = &Content{}
		if err := json.Unmarshal(v, p.Message); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "Reasoning", "reasoning"); ok {
		p.Reasoning = &Content{}
		if err := json.Unmarshal(v, p.Reasoning); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "Tool", "tool"); ok {
		p.Tool = &ToolMessage{}
		if err := json.Unmarshal(v, p.Tool); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "Command", "command"); ok {
		p.Command = &Command{}
		if err := json.Unmarshal(v, p.Command); err != nil {
			return err
		}
	}
	return nil
}

func (h Handshake) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"projectId": h.ProjectID,
		"chatId":    h.ChatID,
	})
}

func (h *Handshake) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := pick(raw, "projectId", "project_id"); ok {
		if err := json.Unmarshal(v, &h.ProjectID); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "chatId", "chat_id"); ok {
		if err := json.Unmarshal(v, &h.ChatID); err != nil {
			return err
		}
	}
	return nil
}

func (e ErrorDetail) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"errorCode": e.ErrorCode,
		"message":   e.Message,
		"uuid":      e.UUID,
	}
	if e.Data != nil {
		out["data"] = e.Data
	}
	return json.Marshal(out)
}

func (e *ErrorDetail) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := pick(raw, "errorCode", "error_code"); ok {
		if err := json.Unmarshal(v, &e.ErrorCode); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "message"); ok {
		if err := json.Unmarshal(v, &e.Message); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "data"); ok {
		if err := json.Unmarshal(v, &e.Data); err != nil {
			return err
		}
	}
	if v, ok := pick(raw, "uuid"); ok {
		if err := json.Unmarshal(v, &e.UUID); err != nil {
			return err
		}
	}
	return nil
}

func (c Command) MarshalJSON() ([]byte, error) {
	var args any
	switch {
	case c.Set != nil:
		args = c.Set
	case c.Args != nil:
		args = c.Args
	default:
		args = map[string]any{}
	}
	return json.Marshal(map[string]any{
		"command":   c.Command,
		"arguments": args,
	})
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var raw struct {
		Command   CommandType     `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Command = raw.Command
	if len(raw.Arguments) == 0 || string(raw.Arguments) == "null" {
		return nil
	}

	var argMap map[string]json.RawMessage
	if err := json.Unmarshal(raw.Arguments, &argMap); err != nil {
		return err
	}
	// Older clients wrap the argument struct under its type name.
	if wrapped, ok := pick(argMap, "SetCommandArgument"); ok {
		argMap = nil
		if err := json.Unmarshal(wrapped, &argMap); err != nil {
			return err
		}
		raw.Arguments = wrapped
	}
	if _, hasKey := argMap["key"]; raw.Command == CommandSet && hasKey {
		c.Set = &SetArgument{}
		return json.Unmarshal(raw.Arguments, c.Set)
	}
	if len(argMap) > 0 {
		return json.Unmarshal(raw.Arguments, &c.Args)
	}
	return nil
}
