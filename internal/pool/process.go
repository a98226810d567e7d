package pool

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const maxMessageSize = 4 * 1024 * 1024

// process is one generation of a worker slot.
type process struct {
	cmd   *exec.Cmd
	mu    sync.Mutex
	stdin io.WriteCloser
	enc   *json.Encoder
	done  chan struct{}
}

func (p *Pool) launch(slotID, gen int) (*process, error) {
	cmd := p.opts.Command()
	configureProcess(cmd)
	if cmd.Stderr == nil {
		cmd.Stderr = p.opts.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	proc := &process{cmd: cmd, stdin: stdin, enc: json.NewEncoder(stdin), done: make(chan struct{})}
	p.readers.Add(1)
	go p.readLoop(proc, stdout, slotID, gen)

	init := &Init{WorkerID: slotID, Generation: gen, Settings: p.opts.Settings}
	if err := proc.send(message{Type: msgInit, Init: init}); err != nil {
		proc.kill()
		return nil, fmt.Errorf("send init: %w", err)
	}
	return proc, nil
}

// readLoop forwards worker messages as events until stdout closes, then
// reaps the process and reports its exit.
func (p *Pool) readLoop(proc *process, stdout io.Reader, slotID, gen int) {
	defer p.readers.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			p.post(event{kind: evProtocol, slot: slotID, gen: gen, detail: fmt.Sprintf("protocol error: invalid message: %v", err)})
			continue
		}
		ev := event{slot: slotID, gen: gen, msg: &msg}
		switch msg.Type {
		case msgReady:
			ev.kind = evReady
		case msgInitError:
			ev.kind = evInitError
			ev.detail = "init failed"
			if msg.Error != nil && msg.Error.Detail != "" {
				ev.detail = msg.Error.Detail
			}
		case msgResult:
			ev.kind = evResult
		default:
			ev.kind = evProtocol
			ev.detail = fmt.Sprintf("protocol error: unexpected message type %q", msg.Type)
		}
		p.post(ev)
	}
	if err := scanner.Err(); err != nil {
		p.post(event{kind: evProtocol, slot: slotID, gen: gen, detail: fmt.Sprintf("protocol error: %v", err)})
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := proc.cmd.Wait()
	close(proc.done)
	p.post(event{kind: evExit, slot: slotID, gen: gen, detail: exitDetail(waitErr)})
}

func exitDetail(err error) string {
	if err == nil {
		return "worker exited"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "worker exited: " + exitErr.ProcessState.String()
	}
	return "worker exited: " + err.Error()
}

func (proc *process) send(msg message) error {
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if proc.enc == nil {
		return errWorkerGone
	}
	return proc.enc.Encode(msg)
}

func (proc *process) closeInput() {
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if proc.stdin != nil {
		_ = proc.stdin.Close()
		proc.stdin = nil
		proc.enc = nil
	}
}

func (proc *process) kill() {
	select {
	case <-proc.done:
		return
	default:
	}
	killProcessGroup(proc.cmd)
	proc.closeInput()
}
