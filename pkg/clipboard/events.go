package clipboard

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	messageTypeUpdate   = "update"
	messageTypeFileInfo = "fileInfo"
	messageTypeEdit     = "edit"
)

// ErrMalformedMessage is returned for channel frames that cannot be decoded into a known message.
var ErrMalformedMessage = errors.New("malformed message")

var errEditWithoutText = fmt.Errorf("%w: edit without a text field", ErrMalformedMessage)

// Event is a server to client notification.
type Event interface {
	// Kind is the value of the "type" field on the wire.
	Kind() string
	frame() any
}

// TextUpdated carries the complete current shared text.
type TextUpdated struct {
	Text string
}

func (TextUpdated) Kind() string { return messageTypeUpdate }

func (e TextUpdated) frame() any {
	return struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: messageTypeUpdate, Text: e.Text}
}

// FileChanged announces the name of the current file. A nil Name means the file was removed.
type FileChanged struct {
	Name *string
}

func (FileChanged) Kind() string { return messageTypeFileInfo }

func (e FileChanged) frame() any {
	return struct {
		Type string  `json:"type"`
		Name *string `json:"name"`
	}{Type: messageTypeFileInfo, Name: e.Name}
}

func encodeEvent(e Event) ([]byte, error) {
	b, err := json.Marshal(e.frame())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Kind(), err)
	}
	return b, nil
}

// inboundMessage is a client to server frame. Text is a pointer so that an edit without a text
// field can be told apart from an edit that empties the buffer.
type inboundMessage struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

func decodeMessage(raw []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}
