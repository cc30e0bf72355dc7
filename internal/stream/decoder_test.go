// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/driftchat/driftchat/internal/provider"
)

// chunkedReader feeds its chunks one Read at a time, so line and event
// boundaries never align with read boundaries.
type chunkedReader struct {
	chunks []string
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func drain(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
		if ev.Kind == EventEnd {
			// Subsequent calls must report EOF.
			if _, err := d.Next(); err != io.EOF {
				t.Fatalf("Next after end = %v, want io.EOF", err)
			}
			return events
		}
	}
}

func deltaText(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == EventDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func TestNDJSONDecode(t *testing.T) {
	payload := `{"message":{"role":"assistant","content":"Hello"},"done":false}
{"message":{"role":"assistant","content":" world"},"done":false}
{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":12,"eval_count":34}
`
	d := NewDecoder(strings.NewReader(payload), provider.FramingNDJSON)
	events := drain(t, d)

	if got := deltaText(events); got != "Hello world" {
		t.Errorf("content = %q, want %q", got, "Hello world")
	}

	var final *Event
	for i := range events {
		if events[i].Kind == EventFinal {
			final = &events[i]
		}
	}
	if final == nil {
		t.Fatal("no final event")
	}
	if final.PromptTokens != 12 || final.CompletionTokens != 34 {
		t.Errorf("usage = (%d, %d), want (12, 34)", final.PromptTokens, final.CompletionTokens)
	}

	if events[len(events)-1].Kind != EventEnd {
		t.Errorf("last event = %v, want EventEnd", events[len(events)-1].Kind)
	}
}

func TestNDJSONDoneWithoutUsage(t *testing.T) {
	payload := `{"message":{"content":"ok"},"done":false}
{"message":{"content":""},"done":true}
`
	d := NewDecoder(strings.NewReader(payload), provider.FramingNDJSON)
	events := drain(t, d)

	for _, ev := range events {
		if ev.Kind == EventFinal {
			t.Error("final event emitted without usage counts")
		}
	}
}

func TestNDJSONMalformedLineSkipped(t *testing.T) {
	payload := `{"message":{"content":"a"},"done":false}
this is not json
{"message":{"content":"b"},"done":true}
`
	d := NewDecoder(strings.NewReader(payload), provider.FramingNDJSON)
	events := drain(t, d)

	if got := deltaText(events); got != "ab" {
		t.Errorf("content = %q, want %q", got, "ab")
	}
	if events[len(events)-1].Kind != EventEnd {
		t.Error("stream did not terminate after malformed line")
	}
}

func TestNDJSONUnterminatedFinalLine(t *testing.T) {
	// No trailing newline on the done record.
	payload := `{"message":{"content":"hi"},"done":false}
{"message":{"content":""},"done":true}`
	d := NewDecoder(strings.NewReader(payload), provider.FramingNDJSON)
	events := drain(t, d)

	if got := deltaText(events); got != "hi" {
		t.Errorf("content = %q, want %q", got, "hi")
	}
}

func TestNDJSONBytesAfterDoneIgnored(t *testing.T) {
	payload := `{"message":{"content":"x"},"done":true}
{"message":{"content":"leftover"},"done":false}
`
	d := NewDecoder(strings.NewReader(payload), provider.FramingNDJSON)
	events := drain(t, d)

	if got := deltaText(events); got != "x" {
		t.Errorf("content = %q, want %q", got, "x")
	}
}

func TestSSEDecode(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"},\"finish_reason\":\"\"}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" there\"},\"finish_reason\":\"\"}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":34,\"total_tokens\":46}}\n\n" +
		"data: [DONE]\n\n"

	d := NewDecoder(strings.NewReader(payload), provider.FramingSSE)
	events := drain(t, d)

	if got := deltaText(events); got != "Hi there" {
		t.Errorf("content = %q, want %q", got, "Hi there")
	}

	var final *Event
	for i := range events {
		if events[i].Kind == EventFinal {
			final = &events[i]
		}
	}
	if final == nil {
		t.Fatal("no final event")
	}
	if final.TotalTokens != 46 {
		t.Errorf("total tokens = %d, want 46", final.TotalTokens)
	}
}

func TestSSEUnterminatedFinalLine(t *testing.T) {
	// The last data: line ends at EOF with no newline or blank line.
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"},\"finish_reason\":\"\"}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" there\"},\"finish_reason\":\"\"}]}"
	d := NewDecoder(strings.NewReader(payload), provider.FramingSSE)
	events := drain(t, d)

	if got := deltaText(events); got != "Hi there" {
		t.Errorf("content = %q, want %q", got, "Hi there")
	}
}

func TestSSEDoneSentinelTerminates(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"},\"finish_reason\":\"\"}]}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ghost\"},\"finish_reason\":\"\"}]}\n\n"

	d := NewDecoder(strings.NewReader(payload), provider.FramingSSE)
	events := drain(t, d)

	if got := deltaText(events); got != "a" {
		t.Errorf("content = %q, want %q", got, "a")
	}
}

func TestSSEMalformedEventSkipped(t *testing.T) {
	payload := "data: not json\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"\"}]}\n\n" +
		"data: [DONE]\n\n"

	d := NewDecoder(strings.NewReader(payload), provider.FramingSSE)
	events := drain(t, d)

	if got := deltaText(events); got != "ok" {
		t.Errorf("content = %q, want %q", got, "ok")
	}
}

func TestSSENoSpaceAfterColon(t *testing.T) {
	payload := "data:{\"choices\":[{\"delta\":{\"content\":\"tight\"},\"finish_reason\":\"\"}]}\n\n" +
		"data:[DONE]\n\n"

	d := NewDecoder(strings.NewReader(payload), provider.FramingSSE)
	events := drain(t, d)

	if got := deltaText(events); got != "tight" {
		t.Errorf("content = %q, want %q", got, "tight")
	}
}

// TestChunkBoundaryIndependence verifies the decoded event sequence is
// identical whether the payload arrives as one chunk or split at
// arbitrary byte positions.
func TestChunkBoundaryIndependence(t *testing.T) {
	payloads := map[provider.Framing]string{
		provider.FramingNDJSON: `{"message":{"content":"Hel"},"done":false}
{"message":{"content":"lo wor"},"done":false}
{"message":{"content":"ld"},"done":true,"prompt_eval_count":5,"eval_count":9}
`,
		provider.FramingSSE: "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"},\"finish_reason\":\"\"}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo world\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":9,\"total_tokens\":14}}\n\n" +
			"data: [DONE]\n\n",
	}

	for framing, payload := range payloads {
		whole := drain(t, NewDecoder(strings.NewReader(payload), framing))

		for split := 1; split < len(payload); split += 7 {
			reader := &chunkedReader{chunks: []string{payload[:split], payload[split:]}}
			chunked := drain(t, NewDecoder(reader, framing))

			if len(chunked) != len(whole) {
				t.Fatalf("%v split %d: %d events, want %d", framing, split, len(chunked), len(whole))
			}
			for i := range whole {
				if chunked[i] != whole[i] {
					t.Errorf("%v split %d event %d: %+v, want %+v", framing, split, i, chunked[i], whole[i])
				}
			}
		}
	}
}

func TestProcessCancellation(t *testing.T) {
	// A reader that never returns forces Process to notice cancellation
	// before its next Read. Use pre-buffered events plus a cancelled
	// context instead.
	payload := `{"message":{"content":"a"},"done":false}
{"message":{"content":"b"},"done":true}
`
	d := NewDecoder(strings.NewReader(payload), provider.FramingNDJSON)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Process(ctx, func(Event) { t.Error("callback invoked after cancel") })
	if err != context.Canceled {
		t.Errorf("Process = %v, want context.Canceled", err)
	}
}

func TestProcessDeliversAll(t *testing.T) {
	payload := `{"message":{"content":"one "},"done":false}
{"message":{"content":"two"},"done":true}
`
	d := NewDecoder(strings.NewReader(payload), provider.FramingNDJSON)

	var events []Event
	if err := d.Process(context.Background(), func(ev Event) {
		events = append(events, ev)
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := deltaText(events); got != "one two" {
		t.Errorf("content = %q, want %q", got, "one two")
	}
	if events[len(events)-1].Kind != EventEnd {
		t.Error("end event not delivered")
	}
}
