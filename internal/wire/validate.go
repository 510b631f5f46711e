package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"realtime-service/internal/event"
)

var ErrBadFrame = errors.New("bad frame")

const clientFrameSchema = `{
  "type": "object",
  "required": ["op"],
  "properties": {
    "op": {"enum": ["join", "leave", "relay"]},
    "postId": {"type": "string", "minLength": 1},
    "event": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"op": {"const": "relay"}}},
      "then": {"required": ["postId", "event"]}
    },
    {
      "if": {"properties": {"op": {"enum": ["join", "leave"]}}},
      "then": {"required": ["postId"]}
    }
  ]
}`

// Validator checks frames sent by clients before the server acts on them.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	s, err := jsonschema.CompileString("client-frame.schema.json", clientFrameSchema)
	if err != nil {
		return nil, fmt.Errorf("compile frame schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// DecodeClient parses a client frame. Relay frames must carry a comment event
// for the same post as the frame; an event without postId inherits it.
func (v *Validator) DecodeClient(b []byte) (Frame, error) {
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Op != OpRelay {
		f.Event = nil
		return f, nil
	}

	if f.Event.PostID == "" {
		f.Event.PostID = f.PostID
	}
	if f.Event.PostID != f.PostID {
		return Frame{}, fmt.Errorf("%w: event for %q relayed to room %q", ErrBadFrame, f.Event.PostID, f.PostID)
	}
	if err := f.Event.Validate(); err != nil {
		return Frame{}, err
	}
	if !f.Event.IsComment() {
		return Frame{}, fmt.Errorf("%w: %s is not a room event", event.ErrMalformed, f.Event.Kind)
	}
	return f, nil
}

// DecodeServer parses a frame received from the server.
func DecodeServer(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	switch f.Op {
	case OpHello:
		return f, nil
	case OpEvent:
		if f.Event == nil {
			return Frame{}, fmt.Errorf("%w: event frame without event", event.ErrMalformed)
		}
		if err := f.Event.Validate(); err != nil {
			return Frame{}, err
		}
		return f, nil
	}
	return Frame{}, fmt.Errorf("%w: unexpected op %q", ErrBadFrame, f.Op)
}
