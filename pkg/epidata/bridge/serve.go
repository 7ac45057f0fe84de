package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bascanada/epidata/pkg/ty"
)

// Handler executes invocations on the engine side of the bridge.
type Handler interface {
	Invoke(ctx context.Context, inv Invocation) ([]ty.MI, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) ([]ty.MI, error)

func (f HandlerFunc) Invoke(ctx context.Context, inv Invocation) ([]ty.MI, error) {
	return f(ctx, inv)
}

// Serve announces ready on w, then answers every invocation read from r
// with h, one at a time, until r is exhausted or ctx is done.
func Serve(ctx context.Context, r io.Reader, w io.Writer, ready ReadyPayload, h Handler) error {
	reader := NewMessageReader(r)
	writer := NewMessageWriter(w)

	if err := writer.WritePayload("", MessageTypeReady, ready); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if msg.Type != MessageTypeInvoke {
			continue
		}

		var inv Invocation
		if err := json.Unmarshal(msg.Payload, &inv); err != nil {
			if werr := writer.WritePayload(msg.ID, MessageTypeError, ErrorPayload{Message: err.Error(), Code: "BAD_INVOCATION"}); werr != nil {
				return werr
			}
			continue
		}

		records, err := h.Invoke(ctx, inv)
		if err != nil {
			if werr := writer.WritePayload(msg.ID, MessageTypeError, toErrorPayload(err)); werr != nil {
				return werr
			}
			continue
		}
		if records == nil {
			records = []ty.MI{}
		}
		if err := writer.WritePayload(msg.ID, MessageTypeResponse, ResponsePayload{Records: records}); err != nil {
			return err
		}
	}
}

func toErrorPayload(err error) ErrorPayload {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return ErrorPayload{Message: remote.Message, Code: remote.Code, Stack: remote.Stack}
	}
	return ErrorPayload{Message: err.Error(), Code: "ENGINE_ERROR"}
}

// HTTPHandler exposes h as "POST /invoke", the form expected by the remote
// transport. Engine failures answer 422 with an ErrorPayload body.
func HTTPHandler(ready ReadyPayload, h Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ready)
	})
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, ErrorPayload{Message: "only POST is allowed", Code: "METHOD_NOT_ALLOWED"})
			return
		}
		var inv Invocation
		if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorPayload{Message: fmt.Sprintf("invalid invocation: %v", err), Code: "BAD_INVOCATION"})
			return
		}
		records, err := h.Invoke(r.Context(), inv)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, toErrorPayload(err))
			return
		}
		if records == nil {
			records = []ty.MI{}
		}
		writeJSON(w, http.StatusOK, ResponsePayload{Records: records})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
