// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"

	"github.com/driftchat/driftchat/internal/provider"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventKind discriminates decoder events.
type EventKind int

const (
	// EventDelta carries a content fragment.
	EventDelta EventKind = iota

	// EventFinal carries the provider's usage figures.
	EventFinal

	// EventEnd marks logical termination of the stream.
	EventEnd
)

// Event is one provider-neutral stream event.
type Event struct {
	Kind EventKind

	// Text is set for EventDelta.
	Text string

	// Usage figures, set for EventFinal. A total of zero with nonzero
	// prompt/completion means the provider sent no explicit total.
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder reads one streaming response body and yields Events in source
// order. Chunk boundaries need not align with line boundaries: the
// buffered reader holds any partial trailing line across reads and only
// complete lines are parsed. A Decoder is not restartable; create a new
// one per request.
type Decoder struct {
	reader  *bufio.Reader
	framing provider.Framing

	// pending holds events decoded from one record ahead of delivery
	// (a done record can produce both a final and an end event).
	pending []Event
	done    bool
}

// NewDecoder creates a decoder for a response body with the framing the
// provider endpoint declared.
func NewDecoder(r io.Reader, framing provider.Framing) *Decoder {
	return &Decoder{
		reader:  bufio.NewReader(r),
		framing: framing,
	}
}

// Next returns the next event. After EventEnd has been delivered the
// decoder stops reading the source entirely: bytes past logical
// termination are ignored and Next returns io.EOF.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			if ev.Kind == EventEnd {
				d.done = true
			}
			return ev, nil
		}
		if d.done {
			return Event{}, io.EOF
		}

		var err error
		switch d.framing {
		case provider.FramingNDJSON:
			err = d.readNDJSONRecord()
		default:
			err = d.readSSERecord()
		}
		if err != nil {
			if err == io.EOF {
				// Source ended without a done record.
				d.pending = append(d.pending, Event{Kind: EventEnd})
				continue
			}
			return Event{}, err
		}
	}
}

// Process drains the decoder, invoking fn for each event in order.
// It returns when the stream ends or the context is cancelled.
func (d *Decoder) Process(ctx context.Context, fn func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := d.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		fn(ev)
		if ev.Kind == EventEnd {
			return nil
		}
	}
}

// =============================================================================
// NDJSON FRAMING
// =============================================================================

// ndjsonRecord is one line of an Ollama-style stream. The done record
// optionally carries prompt/completion counts.
type ndjsonRecord struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count,omitempty"`
	EvalCount       int  `json:"eval_count,omitempty"`
}

// readNDJSONRecord parses the next complete line into pending events.
func (d *Decoder) readNDJSONRecord() error {
	line, err := d.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
			// Process the final unterminated line before reporting EOF.
			d.parseNDJSONLine(bytes.TrimSpace(line))
			return nil
		}
		return err
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	d.parseNDJSONLine(line)
	return nil
}

// parseNDJSONLine decodes one line. Malformed lines are logged and
// skipped; a single bad record never aborts the stream.
func (d *Decoder) parseNDJSONLine(line []byte) {
	var rec ndjsonRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		log.Printf("stream: skipping malformed record: %v", err)
		return
	}

	if rec.Message.Content != "" {
		d.pending = append(d.pending, Event{Kind: EventDelta, Text: rec.Message.Content})
	}

	if rec.Done {
		if rec.PromptEvalCount > 0 || rec.EvalCount > 0 {
			d.pending = append(d.pending, Event{
				Kind:             EventFinal,
				PromptTokens:     rec.PromptEvalCount,
				CompletionTokens: rec.EvalCount,
			})
		}
		d.pending = append(d.pending, Event{Kind: EventEnd})
	}
}

// =============================================================================
// SSE FRAMING
// =============================================================================

// sseChunk is one data payload of an OpenAI-style event stream.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// doneSentinel ends an SSE stream without further parsing.
var doneSentinel = []byte("[DONE]")

// readSSERecord reads the next SSE event's data payload into pending
// events.
func (d *Decoder) readSSERecord() error {
	data, err := d.readSSEData()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if bytes.Equal(data, doneSentinel) {
		d.pending = append(d.pending, Event{Kind: EventEnd})
		return nil
	}

	var chunk sseChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		log.Printf("stream: skipping malformed record: %v", err)
		return nil
	}

	finished := false
	if len(chunk.Choices) > 0 {
		if text := chunk.Choices[0].Delta.Content; text != "" {
			d.pending = append(d.pending, Event{Kind: EventDelta, Text: text})
		}
		finished = chunk.Choices[0].FinishReason != ""
	}

	if chunk.Usage != nil {
		d.pending = append(d.pending, Event{
			Kind:             EventFinal,
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		})
	}

	if finished {
		d.pending = append(d.pending, Event{Kind: EventEnd})
	}
	return nil
}

// readSSEData reads lines until one complete event's data is assembled.
// Multiple data: lines in one event are joined with newlines; id:,
// event:, retry: fields and comments are ignored.
func (d *Decoder) readSSEData() ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := d.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// The stream may end without a trailing newline;
				// a partial data: line still counts.
				line = bytes.TrimRight(line, "\r\n")
				if bytes.HasPrefix(line, []byte("data:")) {
					dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
				}
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
	}
}
