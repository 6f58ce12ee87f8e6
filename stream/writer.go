package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// ContentType is the media type of the chat stream.
const ContentType = "application/x-ndjson"

// DefaultBuffer is the event channel capacity used when none is configured.
const DefaultBuffer = 64

// SetHeaders prepares a response for streaming. No Content-Length is set.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer encodes one event per line.
type Writer struct {
	enc     *json.Encoder
	flusher http.Flusher
}

// NewWriter wraps w. When w is an http.Flusher every event is flushed.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	flusher, _ := w.(http.Flusher)
	return &Writer{enc: enc, flusher: flusher}
}

// Write encodes ev followed by a newline.
func (w *Writer) Write(ev Event) error {
	if err := w.enc.Encode(ev); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Pump copies events to w until a terminal event has been written, the
// channel closes, ctx ends or a write fails. It never drains the channel
// after returning, so producers must select on the same ctx.
func Pump(ctx context.Context, events <-chan Event, w *Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.Write(ev); err != nil {
				return err
			}
			if ev.Terminal() {
				return nil
			}
		}
	}
}

// Emit sends ev unless ctx ends first.
func Emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
