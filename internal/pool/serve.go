package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"ecgbatch/internal/failure"
)

// Handler processes one task inside a worker process.
type Handler interface {
	Handle(ctx context.Context, task Task) (outputPath string, skipped bool, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) (string, bool, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task Task) (string, bool, error) {
	return f(ctx, task)
}

// SetupFunc builds the worker's handler from its init message. It runs once
// per worker process.
type SetupFunc func(ctx context.Context, init Init) (Handler, error)

// ErrHandlerPanic is returned by Serve after a handler panic has been
// reported for the task that caused it.
var ErrHandlerPanic = errors.New("handler panicked")

// Serve runs the worker side of the protocol on in and out. It returns nil
// when in reaches EOF, which is how the dispatcher asks for a graceful exit.
func Serve(ctx context.Context, in io.Reader, out io.Writer, setup SetupFunc) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	enc := json.NewEncoder(out)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read init: %w", err)
		}
		return fmt.Errorf("read init: %w", io.ErrUnexpectedEOF)
	}
	var first message
	if err := json.Unmarshal(scanner.Bytes(), &first); err != nil {
		return fmt.Errorf("decode init: %w", err)
	}
	if first.Type != msgInit || first.Init == nil {
		return fmt.Errorf("expected init message, got %q", first.Type)
	}

	handler, err := setup(ctx, *first.Init)
	if err != nil {
		_ = enc.Encode(message{Type: msgInitError, Error: &wireError{Detail: err.Error()}})
		return fmt.Errorf("worker setup: %w", err)
	}
	if err := enc.Encode(message{Type: msgReady, PID: os.Getpid()}); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return fmt.Errorf("decode task: %w", err)
		}
		if msg.Type != msgTask || msg.Task == nil {
			return fmt.Errorf("expected task message, got %q", msg.Type)
		}
		reply, panicked := invoke(ctx, handler, msg.Seq, *msg.Task)
		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("send result: %w", err)
		}
		if panicked {
			return ErrHandlerPanic
		}
	}
	return scanner.Err()
}

func invoke(ctx context.Context, handler Handler, seq uint64, task Task) (reply message, panicked bool) {
	reply = message{Type: msgResult, Seq: seq}
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			reply.Exiting = true
			reply.OutputPath = ""
			reply.Skipped = false
			reply.Error = &wireError{
				Kind:   failure.KindWorkerCrash,
				Detail: fmt.Sprintf("panic: %v", r),
			}
			fmt.Fprintf(os.Stderr, "worker panic handling %s: %v\n%s", task.Key, r, debug.Stack())
		}
	}()
	outputPath, skipped, err := handler.Handle(ctx, task)
	if err != nil {
		reply.Error = encodeFailure(err)
		return reply, false
	}
	reply.OutputPath = outputPath
	reply.Skipped = skipped
	return reply, false
}
