// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Message types used on the data channel.
const (
	TypeValidation      = "validation"
	TypeSubscribe       = "subscribe"
	TypeUnsubscribe     = "unsubscribe"
	TypeMessage         = "msg"
	TypeRequest         = "req"
	TypeResponse        = "res"
	TypeVideo           = "vid"
	TypeAudio           = "aud"
	TypeErr             = "err"
	TypeHeartbeat       = "heartbeat"
	TypeRTCInnerRequest = "rtc_inner_req"
	TypeRTCReport       = "rtc_report"
	TypeAddError        = "add_error"
	TypeRemoveError     = "rm_error"
	TypeErrors          = "errors"
)

// knownTypes are the types the channel accepts. Anything else is logged
// and dropped before it reaches subscribers.
var knownTypes = map[string]bool{
	TypeValidation:      true,
	TypeSubscribe:       true,
	TypeUnsubscribe:     true,
	TypeMessage:         true,
	TypeRequest:         true,
	TypeResponse:        true,
	TypeVideo:           true,
	TypeAudio:           true,
	TypeErr:             true,
	TypeHeartbeat:       true,
	TypeRTCInnerRequest: true,
	TypeRTCReport:       true,
	TypeAddError:        true,
	TypeRemoveError:     true,
	TypeErrors:          true,
}

// Message is one decoded data channel message. Data and Info hold
// whatever JSON the peer sent (objects decode to map[string]any); for
// binary frames Data.data holds the decoded payload.
type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Info  any    `json:"info,omitempty"`
}

// MessageFromHeader converts a decoded JSON object into a Message.
func MessageFromHeader(header map[string]any) Message {
	message := Message{
		Data: header["data"],
		Info: header["info"],
	}
	message.Type, _ = header["type"].(string)
	message.Topic, _ = header["topic"].(string)
	message.ID, _ = header["id"].(string)
	return message
}

// ParseText decodes a JSON text message.
func ParseText(text []byte) (Message, error) {
	var header map[string]any
	if err := json.Unmarshal(text, &header); err != nil {
		return Message{}, fmt.Errorf("parsing text message: %w", err)
	}
	return MessageFromHeader(header), nil
}

// DataField walks Data through nested objects.
func (m Message) DataField(path ...string) (any, bool) {
	return Lookup(m.Data, path...)
}

// InfoField walks Info through nested objects.
func (m Message) InfoField(path ...string) (any, bool) {
	return Lookup(m.Info, path...)
}

// DataString returns Data when it is a plain string.
func (m Message) DataString() string {
	text, _ := m.Data.(string)
	return text
}

// Lookup follows path through nested map[string]any values.
func Lookup(value any, path ...string) (any, bool) {
	current := value
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// correlationID returns the id a reply carries: the envelope id, the
// request identity echoed in data.header.identity.id, or data.uuid.
func (m Message) correlationID() string {
	if m.ID != "" {
		return m.ID
	}
	if identity, ok := m.DataField("header", "identity", "id"); ok {
		switch typed := identity.(type) {
		case string:
			return typed
		case float64:
			return strconv.FormatFloat(typed, 'f', -1, 64)
		}
	}
	if uuid, ok := m.DataField("uuid"); ok {
		if text, ok := uuid.(string); ok {
			return text
		}
	}
	return ""
}

// fallbackKey groups requests that the peer answers without echoing an id.
func fallbackKey(messageType, topic string) string {
	return messageType + "$" + topic
}
