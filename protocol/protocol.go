// Package protocol defines the message structures exchanged between the web
// view and the native FRIDAY process. Every frame is a single JSON object; an
// Invocation travels towards native code and exactly one Response travels
// back, paired by its correlation id.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Builtin command names.
const (
	CmdPing         = "ping"
	CmdSystemInfo   = "system.info"
	CmdSystemHealth = "system.health"
	CmdAppCommands  = "app.commands"
	CmdBridgeStats  = "bridge.stats"
	CmdBridgeEcho   = "bridge.echo"
)

// ErrorKind classifies a failed Response.
type ErrorKind string

const (
	KindUnknownCommand    ErrorKind = "UnknownCommand"
	KindArgumentDecode    ErrorKind = "ArgumentDecodeError"
	KindInternalFault     ErrorKind = "InternalFault"
	KindHandler           ErrorKind = "HandlerError"
	KindUnavailable       ErrorKind = "Unavailable"
	KindInvalidInvocation ErrorKind = "InvalidInvocation"
	KindForbidden         ErrorKind = "Forbidden"
)

// Invocation is one UI-originated call request. The correlation id may be
// a JSON string or a JSON number; a numeric id is kept as its literal text
// in ID and echoed back as a number.
type Invocation struct {
	Name      string
	Args      json.RawMessage
	ID        string
	NumericID bool
}

type invocationFrame struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
	ID   json.RawMessage `json:"id"`
}

// MarshalJSON emits {"name","args","id"}.
func (inv Invocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(invocationFrame{Name: inv.Name, Args: inv.Args, ID: encodeID(inv.ID, inv.NumericID)})
}

// UnmarshalJSON accepts a string or numeric id.
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var frame invocationFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	id, numeric, err := decodeID(frame.ID)
	if err != nil {
		return err
	}
	*inv = Invocation{Name: frame.Name, Args: frame.Args, ID: id, NumericID: numeric}
	return nil
}

// Reply stamps resp with the correlation id of inv in its original form.
func (inv Invocation) Reply(resp Response) Response {
	resp.ID = inv.ID
	resp.NumericID = inv.NumericID
	return resp
}

func decodeID(raw json.RawMessage) (id string, numeric bool, err error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || string(raw) == "null":
		return "", false, nil
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", false, fmt.Errorf("decode id: %w", err)
		}
		return id, false, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false, fmt.Errorf("id must be a string or a number: %w", err)
	}
	return n.String(), true, nil
}

func encodeID(id string, numeric bool) json.RawMessage {
	if numeric && json.Valid([]byte(id)) {
		return json.RawMessage(id)
	}
	raw, _ := json.Marshal(id)
	return raw
}

// NewInvocation encodes args and builds an Invocation.
func NewInvocation(id, name string, args any) (Invocation, error) {
	inv := Invocation{Name: name, ID: id}
	if args == nil {
		return inv, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return inv, fmt.Errorf("encode args: %w", err)
	}
	inv.Args = raw
	return inv, nil
}

// Error is the serialized failure value of a Response. Handlers may return
// an *Error to pick their own kind and attach data.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Command string    `json:"command,omitempty"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Command, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError converts any error into a wire error. *Error values anywhere in
// the chain are passed through, everything else becomes a HandlerError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindHandler, Message: err.Error()}
}

// Response pairs an outcome with the id of the Invocation that caused it.
// Exactly one of Result and Err is meaningful; Err wins when set.
type Response struct {
	ID        string
	NumericID bool
	Result    json.RawMessage
	Err       *Error
}

// OK reports whether the response carries a success value.
func (r Response) OK() bool {
	return r.Err == nil
}

// Success builds a success Response, encoding value.
func Success(id string, value any) (Response, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Response{}, fmt.Errorf("encode result: %w", err)
	}
	return Response{ID: id, Result: raw}, nil
}

// Failure builds a failure Response.
func Failure(id string, e *Error) Response {
	return Response{ID: id, Err: e}
}

// Decode unmarshals a success value into out. A failure response returns its
// error value.
func (r Response) Decode(out any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, out)
}

type successFrame struct {
	ID json.RawMessage `json:"id"`
	OK json.RawMessage `json:"ok"`
}

type failureFrame struct {
	ID  json.RawMessage `json:"id"`
	Err *Error          `json:"err"`
}

// MarshalJSON emits {"id","ok"} or {"id","err"}. A success with no value is
// sent as "ok": null so the caller can still tell it apart from a failure.
func (r Response) MarshalJSON() ([]byte, error) {
	id := encodeID(r.ID, r.NumericID)
	if r.Err != nil {
		return json.Marshal(failureFrame{ID: id, Err: r.Err})
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(successFrame{ID: id, OK: result})
}

// UnmarshalJSON accepts either response shape.
func (r *Response) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = Response{}
	if raw, ok := fields["id"]; ok {
		id, numeric, err := decodeID(raw)
		if err != nil {
			return err
		}
		r.ID, r.NumericID = id, numeric
	}
	if raw, ok := fields["err"]; ok && string(raw) != "null" {
		var e Error
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decode err: %w", err)
		}
		r.Err = &e
		return nil
	}
	raw, ok := fields["ok"]
	if !ok {
		return errors.New("response has neither ok nor err")
	}
	r.Result = raw
	return nil
}
