// Package notify carries server-initiated messages on the diagnostics
// channel.
package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MethodDebugInfoUpdated   = "debugInfoUpdated"
	MethodDirectDataReceived = "directDataReceived"
)

type Notification struct {
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

func New(method string, payload any) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Method:  method,
		Payload: payload,
		Time:    time.Now().UTC(),
	}
}

// ScanData is the payload of a directDataReceived notification. ScanID is
// the same ID the stream delivery belongs to, so a consumer that listens on
// both channels can drop the duplicate.
type ScanData struct {
	ScanID string `json:"scan_id"`
	Data   string `json:"data"`
	Reason string `json:"reason"`
}

// Notifier must not block the caller.
type Notifier interface {
	Notify(n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(n Notification) error {
	var errs []error
	for _, x := range m {
		if x == nil {
			continue
		}
		if err := x.Notify(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(Notification) error { return nil }
