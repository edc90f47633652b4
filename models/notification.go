package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type NotificationType string

const (
	// Outer tags set by the server's channel layer.
	NotifyStaff NotificationType = "send_staff_notification"
	NotifyUser  NotificationType = "send_notification"

	// Message specific tags, either nested in the payload or at the top level.
	NotifyQueueUpdate  NotificationType = "queue_update"
	NotifyCustom       NotificationType = "custom_notification"
	NotifyPublicUpdate NotificationType = "public_update"

	// NotifyText marks a payload that is a bare string.
	NotifyText NotificationType = "text"
)

// Envelope is one frame received on the push channel.
type Envelope struct {
	Type    NotificationType `json:"type,omitempty"`
	Message json.RawMessage  `json:"message,omitempty"`

	raw json.RawMessage
}

// Notification is the decoded payload of an Envelope.
type Notification struct {
	Type        NotificationType `json:"type"`
	ServiceID   int64            `json:"service_id,omitempty"`
	Queue       []QueueEntry     `json:"queue"`
	Status      Status           `json:"status,omitempty"`
	Service     string           `json:"service,omitempty"`
	Token       int              `json:"token,omitempty"`
	Message     string           `json:"message,omitempty"`
	NowServing  int              `json:"now_serving,omitempty"`
	QueueLength *int             `json:"queue_length,omitempty"`
}

// DecodeEnvelope parses a text frame. The frame must be a JSON object.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	env.raw = append(json.RawMessage(nil), data...)
	return env, nil
}

// Payload decodes the nested message. A string message becomes a text
// notification; an envelope without a message is treated as a flattened
// notification and decoded from the whole frame.
func (e Envelope) Payload() (Notification, error) {
	body := bytes.TrimSpace(e.Message)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		if len(e.raw) == 0 {
			return Notification{Type: e.Type}, nil
		}
		body = e.raw
	}

	if body[0] == '"' && e.flattened() {
		body = e.raw
	}

	if body[0] == '"' {
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return Notification{}, fmt.Errorf("decode text payload: %w", err)
		}
		return Notification{Type: NotifyText, Message: text}, nil
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode payload: %w", err)
	}
	if n.Type == "" {
		n.Type = e.Type
	}
	return n, nil
}

// flattened reports whether the frame is itself a notification whose
// message field is plain text, as opposed to a channel-layer wrapper.
func (e Envelope) flattened() bool {
	switch e.Type {
	case "", NotifyStaff, NotifyUser:
		return false
	}
	return len(e.raw) > 0
}

// Kind returns the most specific tag available: the payload's own type
// when present, otherwise the envelope's.
func (e Envelope) Kind() NotificationType {
	n, err := e.Payload()
	if err != nil || n.Type == "" {
		return e.Type
	}
	return n.Type
}

// QueueSnapshot returns the full queue carried by a queue_update
// notification addressed to staff. ok is false for any other notification,
// including per-user queue_update notices that only carry a status.
func (n Notification) QueueSnapshot() (serviceID int64, queue []QueueEntry, ok bool) {
	if n.Type != NotifyQueueUpdate || n.ServiceID == 0 || n.Queue == nil {
		return 0, nil, false
	}
	return n.ServiceID, n.Queue, true
}

// Text renders the notification for display.
func (n Notification) Text() string {
	if n.Message != "" {
		return n.Message
	}
	switch n.Type {
	case NotifyPublicUpdate:
		if n.NowServing > 0 {
			return fmt.Sprintf("service %d now serving token %d", n.ServiceID, n.NowServing)
		}
		if n.QueueLength != nil {
			return fmt.Sprintf("service %d queue length %d", n.ServiceID, *n.QueueLength)
		}
	case NotifyQueueUpdate:
		if n.Queue != nil {
			return fmt.Sprintf("service %d queue updated (%d entries)", n.ServiceID, len(n.Queue))
		}
		if n.Status != "" {
			return fmt.Sprintf("%s: %s", n.Service, n.Status)
		}
	}
	return string(n.Type)
}
