package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anisarzoo/Dots-and-boxes/store"
)

type Op string

const (
	OpGet          Op = "get"
	OpPut          Op = "put"
	OpUpdate       Op = "update"
	OpPush         Op = "push"
	OpRemove       Op = "remove"
	OpSubscribe    Op = "subscribe"
	OpUnsubscribe  Op = "unsubscribe"
	OpOnDisconnect Op = "onDisconnect"
)

// Error codes carried in Message.Code.
const (
	CodeUnavailable = "unavailable"
	CodeInvalidPath = "invalid_path"
	CodeBadRequest  = "bad_request"
	CodeFailed      = "failed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Request is a client to server store call. Sub ids are allocated by the
// client so events can arrive before the subscribe response.
type Request struct {
	ID    int64           `json:"id"`
	Op    Op              `json:"op"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Sub   int64           `json:"sub,omitempty"`
}

// Message is either a response (ID set) or a subscription event (Sub set,
// ID zero).
type Message struct {
	ID     int64           `json:"id,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Key    string          `json:"key,omitempty"`
	Sub    int64           `json:"sub,omitempty"`
	Exists bool            `json:"exists,omitempty"`
}

// valueOf turns a wire value into a store value; absent and null both remove.
func valueOf(raw json.RawMessage) any {
	if !store.NewSnapshot("", raw).Exists() {
		return nil
	}
	return raw
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, store.ErrInvalidPath):
		return CodeInvalidPath
	default:
		return CodeFailed
	}
}

func remoteErr(m Message) error {
	switch m.Code {
	case CodeUnavailable:
		return fmt.Errorf("%w: %s", store.ErrUnavailable, m.Error)
	case CodeInvalidPath:
		return fmt.Errorf("%w: %s", store.ErrInvalidPath, m.Error)
	default:
		return errors.New(m.Error)
	}
}
