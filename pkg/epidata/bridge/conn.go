package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/ty"
)

// DefaultStartTimeout bounds the wait for the engine ready message.
const DefaultStartTimeout = 60 * time.Second

// ConnOptions configures the handshake of a Conn.
type ConnOptions struct {
	// EntryPoint, when set, must match the entry point announced by the engine.
	EntryPoint string
	// StartTimeout bounds the wait for the ready message.
	StartTimeout time.Duration
	// Name identifies the engine in logs.
	Name string
}

// Conn is a long-lived bridge to one engine. Invocations may be issued
// concurrently; responses are routed back by message id.
type Conn struct {
	name   string
	ready  ReadyPayload
	reader *MessageReader
	writer *MessageWriter
	closer io.Closer

	mu      sync.Mutex
	pending map[string]chan *Message
	err     error
	done    chan struct{}

	readyCh   chan ReadyPayload
	closeOnce sync.Once
}

// Open starts reading from r, waits for the engine ready message and returns
// a usable Conn. closer releases the underlying resource (process, session);
// it is called when the handshake fails and by Close.
func Open(ctx context.Context, r io.Reader, w io.Writer, closer io.Closer, opts ConnOptions) (*Conn, error) {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.Name == "" {
		opts.Name = "engine"
	}

	c := &Conn{
		name:    opts.Name,
		reader:  NewMessageReader(r),
		writer:  NewMessageWriter(w),
		closer:  closer,
		pending: make(map[string]chan *Message),
		done:    make(chan struct{}),
		readyCh: make(chan ReadyPayload, 1),
	}
	go c.readLoop()

	timer := time.NewTimer(opts.StartTimeout)
	defer timer.Stop()

	var handshakeErr error
	select {
	case ready := <-c.readyCh:
		if opts.EntryPoint != "" && ready.EntryPoint != "" && ready.EntryPoint != opts.EntryPoint {
			handshakeErr = fmt.Errorf("%w: engine resolved entry point %s, expected %s", ErrLaunch, ready.EntryPoint, opts.EntryPoint)
			break
		}
		c.ready = ready
		log.Info("%s ready, entry point %s %s", c.name, ready.EntryPoint, ready.Version)
		return c, nil
	case <-c.done:
		handshakeErr = fmt.Errorf("%w: engine exited before ready: %w", ErrLaunch, c.Err())
	case <-timer.C:
		handshakeErr = fmt.Errorf("%w: no ready message after %s", ErrLaunch, opts.StartTimeout)
	case <-ctx.Done():
		handshakeErr = fmt.Errorf("%w: %w", ErrLaunch, ctx.Err())
	}

	_ = c.Close()
	return nil, handshakeErr
}

// Ready returns what the engine announced during the handshake.
func (c *Conn) Ready() ReadyPayload {
	return c.ready
}

// Err returns the reason the bridge stopped, nil while it is usable.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Invoke sends inv and blocks until the engine answers, the bridge stops or
// ctx is done. Engine failures are returned as *RemoteError.
func (c *Conn) Invoke(ctx context.Context, inv Invocation) ([]ty.MI, error) {
	id := uuid.New().String()
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer c.forget(id)

	log.Trace("%s invoke %s id=%s", c.name, inv.Method, id)
	if err := c.writer.WriteInvoke(id, &inv); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}

	select {
	case msg := <-ch:
		return c.decodeAnswer(inv.Method, msg)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		select {
		case msg := <-ch:
			return c.decodeAnswer(inv.Method, msg)
		default:
			return nil, c.Err()
		}
	}
}

func (c *Conn) decodeAnswer(method string, msg *Message) ([]ty.MI, error) {
	switch msg.Type {
	case MessageTypeResponse:
		return DecodeRecords(msg.Payload)
	case MessageTypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: invalid error payload: %v", ErrProtocol, err)
		}
		return nil, &RemoteError{Method: method, Message: payload.Message, Code: payload.Code, Stack: payload.Stack}
	default:
		return nil, fmt.Errorf("%w: unexpected %s message for invocation", ErrProtocol, msg.Type)
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	for {
		msg, err := c.reader.Read()
		if err != nil {
			c.stop(fmt.Errorf("%w: %w", ErrClosed, err))
			return
		}

		switch msg.Type {
		case MessageTypeReady:
			var ready ReadyPayload
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &ready); err != nil {
					c.stop(fmt.Errorf("%w: invalid ready payload: %v", ErrProtocol, err))
					return
				}
			}
			select {
			case c.readyCh <- ready:
			default:
				log.Warn("%s sent a second ready message", c.name)
			}
		case MessageTypeLog:
			c.forwardLog(msg)
		case MessageTypeResponse, MessageTypeError:
			// first answer wins; a duplicate finds no pending entry
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if !ok {
				log.Debug("%s answered unknown or abandoned invocation %s", c.name, msg.ID)
				continue
			}
			ch <- msg
		default:
			log.Warn("%s sent unknown message type %q", c.name, msg.Type)
		}
	}
}

func (c *Conn) forwardLog(msg *Message) {
	var payload LogPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Debug("%s sent an invalid log payload: %v", c.name, err)
		return
	}
	switch strings.ToUpper(payload.Level) {
	case "TRACE":
		log.Trace("%s: %s", c.name, payload.Message)
	case "DEBUG":
		log.Debug("%s: %s", c.name, payload.Message)
	case "WARN", "WARNING":
		log.Warn("%s: %s", c.name, payload.Message)
	case "ERROR":
		log.Error("%s: %s", c.name, payload.Message)
	default:
		log.Info("%s: %s", c.name, payload.Message)
	}
}

func (c *Conn) stop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

// Close stops the bridge and releases the underlying resource. Pending and
// later invocations fail with ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stop(ErrClosed)
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}
