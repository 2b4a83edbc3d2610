// Package audit records the safety-relevant steps of every command
// (classification, tier decision, validation, confirmation, execution,
// queueing) as an append-only JSONL trail.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trail buffers events on a channel and writes them from a single
// goroutine, so hot paths never block on disk.
type Trail struct {
	config Config
	output io.WriteCloser
	writer *bufio.Writer
	buffer chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closeO sync.Once
}

// NewTrail opens the audit output and starts the write loop. A disabled
// config returns a no-op trail.
func NewTrail(config Config) (*Trail, error) {
	if !config.Enabled {
		return &Trail{config: config}, nil
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}

	var output io.WriteCloser
	switch {
	case config.Output == "" || config.Output == "stderr":
		output = nopCloser{os.Stderr}
	case config.Output == "stdout":
		output = nopCloser{os.Stdout}
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open audit output: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output %q", config.Output)
	}

	t := &Trail{
		config: config,
		output: output,
		writer: bufio.NewWriter(output),
		buffer: make(chan Event, config.BufferSize),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writeLoop()
	return t, nil
}

// Record appends one event. The id and timestamp are filled in here so
// callers only name the event. A full buffer drops the event rather than
// stalling command execution.
func (t *Trail) Record(eventType EventType, sessionID, command string, payload map[string]any) {
	if !t.config.Enabled {
		return
	}
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		SessionID: sessionID,
		Command:   command,
		Payload:   payload,
	}
	select {
	case t.buffer <- ev:
	default:
	}
}

func (t *Trail) writeLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-t.buffer:
			t.writeEvent(ev)
		case <-ticker.C:
			_ = t.writer.Flush()
		case <-t.done:
			for {
				select {
				case ev := <-t.buffer:
					t.writeEvent(ev)
				default:
					_ = t.writer.Flush()
					return
				}
			}
		}
	}
}

func (t *Trail) writeEvent(ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = t.writer.Write(line)
	_ = t.writer.WriteByte('\n')
}

// Close drains buffered events, flushes, and closes the output.
func (t *Trail) Close() error {
	if !t.config.Enabled {
		return nil
	}
	var err error
	t.closeO.Do(func() {
		close(t.done)
		t.wg.Wait()
		err = t.output.Close()
	})
	return err
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
