package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Encoder writes the line-delimited text stream consumed by the web client.
// Each text chunk goes out as `0:<json string>` on its own line and the
// terminal frame as `d:{"finishReason":"stop"}`. Every frame is flushed so
// deltas reach the browser as they arrive.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// WriteHeaders sets the response headers for an unbuffered chunked stream.
// Call before the first frame.
func WriteHeaders(h http.Header) {
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Text writes one text chunk frame. The payload is JSON-escaped, so newlines
// and quotes inside the chunk never break the line framing.
func (e *Encoder) Text(chunk string) error {
	encoded, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "0:%s\n", encoded); err != nil {
		return err
	}
	e.flush()
	return nil
}

type finishFrame struct {
	FinishReason string `json:"finishReason"`
}

// Finish writes the terminal frame. Safe to skip when the client is gone.
func (e *Encoder) Finish() error {
	encoded, err := json.Marshal(finishFrame{FinishReason: "stop"})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "d:%s\n", encoded); err != nil {
		return err
	}
	e.flush()
	return nil
}

func (e *Encoder) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
