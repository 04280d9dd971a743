package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxFrameBytes bounds a single newline-terminated frame.
const DefaultMaxFrameBytes = 4 << 20

// ErrFrameTooLarge is reported for a frame that exceeds the reader's limit.
// The frame is skipped and the reader stays usable.
var ErrFrameTooLarge = errors.New("frame too large")

// ErrMissingID is reported for an invocation without a correlation id.
var ErrMissingID = errors.New("missing id")

// FrameError reports a frame that could not be parsed into an Invocation.
// ID holds whatever correlation id could still be recovered from it.
type FrameError struct {
	ID        string
	NumericID bool
	Err       error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("bad frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Response is the InvalidInvocation answer to the rejected frame.
func (e *FrameError) Response() Response {
	resp := Failure(e.ID, &Error{Kind: KindInvalidInvocation, Message: e.Err.Error()})
	resp.NumericID = e.NumericID
	return resp
}

// Reader reads newline-delimited frames.
type Reader struct {
	br       *bufio.Reader
	maxFrame int
}

// NewReader wraps r. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewReader(r io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	size := 64 * 1024
	if size > maxFrame {
		size = maxFrame
	}
	return &Reader{br: bufio.NewReaderSize(r, size), maxFrame: maxFrame}
}

// ReadInvocation returns the next Invocation. Blank lines are skipped.
// A malformed or oversized frame yields a *FrameError and the reader stays
// usable; io.EOF signals a closed stream.
func (r *Reader) ReadInvocation() (Invocation, error) {
	frame, err := r.readFrame()
	switch {
	case errors.Is(err, ErrFrameTooLarge):
		id, numeric := peekID(frame)
		return Invocation{}, &FrameError{
			ID:        id,
			NumericID: numeric,
			Err:       fmt.Errorf("%w: limit is %d bytes", ErrFrameTooLarge, r.maxFrame),
		}
	case errors.Is(err, io.EOF):
		return Invocation{}, io.EOF
	case err != nil:
		return Invocation{}, fmt.Errorf("read error: %w", err)
	}
	return ParseInvocation(frame)
}

// ReadResponse returns the next Response frame.
func (r *Reader) ReadResponse() (Response, error) {
	frame, err := r.readFrame()
	switch {
	case errors.Is(err, io.EOF):
		return Response{}, io.EOF
	case err != nil:
		return Response{}, fmt.Errorf("read error: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return Response{}, fmt.Errorf("decode error: %w", err)
	}
	return resp, nil
}

// readFrame returns the next non-blank line without its line ending. An
// oversized line is consumed up to its newline and returned truncated to
// maxFrame together with ErrFrameTooLarge.
func (r *Reader) readFrame() ([]byte, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return line, err
		}
		if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var (
		line      []byte
		oversized bool
	)
	for {
		chunk, err := r.br.ReadSlice('\n')
		data := chunk
		if err == nil {
			data = bytes.TrimSuffix(chunk[:len(chunk)-1], []byte{'\r'})
		}
		if !oversized {
			if room := r.maxFrame - len(line); len(data) > room {
				line = append(line, data[:room]...)
				oversized = true
			} else {
				line = append(line, data...)
			}
		}

		switch {
		case err == nil:
			if oversized {
				return line, ErrFrameTooLarge
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if oversized {
				return line, ErrFrameTooLarge
			}
			if len(line) > 0 {
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// ParseInvocation decodes and validates a single frame. Failures are
// returned as *FrameError.
func ParseInvocation(frame []byte) (Invocation, error) {
	var inv Invocation
	if err := json.Unmarshal(frame, &inv); err != nil {
		id, numeric := peekID(frame)
		return Invocation{}, &FrameError{ID: id, NumericID: numeric, Err: fmt.Errorf("decode error: %w", err)}
	}
	if inv.ID == "" {
		return Invocation{}, &FrameError{Err: ErrMissingID}
	}
	if inv.Name == "" {
		return Invocation{}, &FrameError{ID: inv.ID, NumericID: inv.NumericID, Err: errors.New("missing name")}
	}
	return inv, nil
}

// peekID recovers the top-level id of a frame that did not decode. It
// works on truncated frames as long as the id precedes the damage.
func peekID(frame []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return "", false
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		if key, _ := tok.(string); key != "id" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return "", false
			}
			continue
		}
		tok, err = dec.Token()
		if err != nil {
			return "", false
		}
		switch v := tok.(type) {
		case string:
			return v, false
		case json.Number:
			return v.String(), true
		}
		return "", false
	}
	return "", false
}

// Writer writes newline-delimited frames. It is safe for concurrent use;
// responses completing on different workers never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteResponse encodes and writes a Response.
func (w *Writer) WriteResponse(resp Response) error {
	return w.write(resp)
}

// WriteInvocation encodes and writes an Invocation.
func (w *Writer) WriteInvocation(inv Invocation) error {
	return w.write(inv)
}

func (w *Writer) write(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}
	frame = append(frame, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(frame)
	return err
}
