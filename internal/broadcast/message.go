package broadcast

import (
	"encoding/json"
	"fmt"

	"realtime-service/internal/event"
)

// Message is the body published on a channel: the event name plus its data.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func EncodeMessage(eventName string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventName, err)
	}
	return json.Marshal(Message{Event: eventName, Data: data})
}

// DecodeMessage turns a channel body back into an event. The event name must
// agree with the kind carried in the data.
func DecodeMessage(body []byte) (event.FanOutEvent, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return event.FanOutEvent{}, fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	ev, err := event.Decode(m.Data)
	if err != nil {
		return event.FanOutEvent{}, err
	}
	if m.Event != string(ev.Kind) {
		return event.FanOutEvent{}, fmt.Errorf("%w: event %q carries kind %q", event.ErrMalformed, m.Event, ev.Kind)
	}
	return ev, nil
}
