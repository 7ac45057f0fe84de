// Package bridge implements the line delimited JSON protocol spoken with the
// engine launcher over its standard streams (or any other byte stream).
//
// The engine announces itself with a "ready" message, then answers every
// "invoke" with a "response" or an "error" carrying the same id. It may send
// "log" messages at any time.
package bridge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/ty"
)

// Message types
const (
	MessageTypeReady    = "ready"
	MessageTypeInvoke   = "invoke"
	MessageTypeResponse = "response"
	MessageTypeLog      = "log"
	MessageTypeError    = "error"
)

// Operations exposed by the epidata entry point.
const (
	MethodQuery         = "query"
	MethodQueryCleansed = "queryMeasurementCleansed"
	MethodQuerySummary  = "queryMeasurementSummary"
	MethodListKeys      = "listKeys"
)

// DefaultKeyFields identify a measurement series in listKeys results.
var DefaultKeyFields = []string{"company", "site", "device_group", "tester"}

// MaxMessageSize bounds a single line; result sets travel in one response.
const MaxMessageSize = 256 * 1024 * 1024

// Message is one line of the protocol.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ReadyPayload is sent by the engine once its entry point is resolved.
type ReadyPayload struct {
	EntryPoint string `json:"entryPoint"`
	Version    string `json:"version,omitempty"`
}

// Invocation asks the entry point to run one of its operations. Times are
// epoch milliseconds; nil when the operation takes no range.
type Invocation struct {
	EntryPoint string              `json:"entryPoint,omitempty"`
	Method     string              `json:"method"`
	FieldQuery map[string][]string `json:"fieldQuery,omitempty"`
	BeginTime  *int64              `json:"beginTime,omitempty"`
	EndTime    *int64              `json:"endTime,omitempty"`
}

// ResponsePayload carries the tabular result as records.
type ResponsePayload struct {
	Records []ty.MI `json:"records"`
}

// LogPayload is a log line emitted by the engine.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorPayload is sent when the engine failed to execute an invocation.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// DecodeRecords decodes a response payload keeping numbers as json.Number,
// so epoch timestamps keep their exact digits.
func DecodeRecords(data []byte) ([]ty.MI, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload ResponsePayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: invalid response payload: %v", ErrProtocol, err)
	}
	if payload.Records == nil {
		payload.Records = []ty.MI{}
	}
	return payload.Records, nil
}

// MessageReader reads messages from an io.Reader, one per line.
type MessageReader struct {
	scanner *bufio.Scanner
}

// NewMessageReader creates a new message reader
func NewMessageReader(r io.Reader) *MessageReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)
	return &MessageReader{scanner: scanner}
}

// Read blocks until the next message is available. Lines that are not JSON
// objects are logged and skipped.
func (mr *MessageReader) Read() (*Message, error) {
	for {
		if !mr.scanner.Scan() {
			if err := mr.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}

		line := bytes.TrimSpace(mr.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' {
			// launchers and JVMs print banners on stdout
			log.Debug("engine output: %s", line)
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal message: %v", ErrProtocol, err)
		}
		return &msg, nil
	}
}

// MessageWriter writes messages to an io.Writer; safe for concurrent use.
type MessageWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewMessageWriter creates a new message writer
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{writer: w}
}

// Write marshals msg on a single line.
func (mw *MessageWriter) Write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	mw.mu.Lock()
	defer mw.mu.Unlock()
	if _, err := mw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// WritePayload marshals payload and writes it as a message of type typ.
func (mw *MessageWriter) WritePayload(id, typ string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return mw.Write(&Message{ID: id, Type: typ, Payload: data})
}

// WriteInvoke writes an INVOKE message
func (mw *MessageWriter) WriteInvoke(id string, inv *Invocation) error {
	return mw.WritePayload(id, MessageTypeInvoke, inv)
}
