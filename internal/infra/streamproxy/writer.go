package streamproxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// eventWriter writes SSE bytes to the caller, sending headers on first use and
// flushing after every write.
type eventWriter struct {
	w           http.ResponseWriter
	controller  *http.ResponseController
	wroteHeader bool
	written     int64
	// tail holds the last bytes written, enough to spot an event boundary.
	tail []byte
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, controller: http.NewResponseController(w)}
}

func (e *eventWriter) write(chunk []byte) error {
	if !e.wroteHeader {
		header := e.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		e.w.WriteHeader(http.StatusOK)
		e.wroteHeader = true
	}
	n, err := e.w.Write(chunk)
	e.written += int64(n)
	e.tail = append(e.tail, chunk[:n]...)
	if len(e.tail) > 4 {
		e.tail = append(e.tail[:0], e.tail[len(e.tail)-4:]...)
	}
	if err != nil {
		return err
	}
	if err := e.controller.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (e *eventWriter) writeError(message string, code int) error {
	payload, err := json.Marshal(errorEvent{Error: errorDetail{Message: message, Code: code}})
	if err != nil {
		return err
	}
	event := fmt.Sprintf("data: %s\n\n", payload)
	if !e.atBoundary() {
		event = "\n\n" + event
	}
	if err := e.write([]byte(event)); err != nil {
		return err
	}
	return e.write([]byte(doneEvent))
}

// atBoundary reports whether the next bytes start a new event.
func (e *eventWriter) atBoundary() bool {
	return len(e.tail) == 0 || bytes.HasSuffix(e.tail, []byte("\n\n")) || bytes.HasSuffix(e.tail, []byte("\r\n\r\n"))
}
