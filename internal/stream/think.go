// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// =============================================================================
// THINK-TAG SPLITTER
// =============================================================================

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// Splitter separates reasoning text from visible text in a delta
// stream. Reasoning models wrap their chain of thought in <think> tags;
// the splitter routes tagged spans to the thinking channel and strips
// the markers themselves. State carries across fragments, so a fragment
// that opens a tag leaves all later fragments in thinking mode until
// the close marker arrives.
//
// A marker split across two fragments ("<thi" + "nk>") is not
// recognized and passes through as ordinary text in the current state.
type Splitter struct {
	thinking bool
}

// Split is the routed output of one consumed fragment.
type Split struct {
	// Visible is the text destined for the message content.
	Visible string

	// Thinking is the text destined for the reasoning trace.
	Thinking string

	// StateChanged reports whether any marker was consumed.
	StateChanged bool
}

// InThinking reports whether the splitter is inside an open tag.
func (s *Splitter) InThinking() bool { return s.thinking }

// Consume routes one fragment, scanning markers left to right. A
// fragment may flip state any number of times; text between markers
// accumulates on whichever side the state says it belongs to.
func (s *Splitter) Consume(fragment string) Split {
	var out Split

	for fragment != "" {
		marker := thinkOpen
		if s.thinking {
			marker = thinkClose
		}

		idx := strings.Index(fragment, marker)
		if idx < 0 {
			out.add(fragment, s.thinking)
			break
		}

		out.add(fragment[:idx], s.thinking)
		fragment = fragment[idx+len(marker):]
		s.thinking = !s.thinking
		out.StateChanged = true
	}

	return out
}

func (o *Split) add(text string, thinking bool) {
	if text == "" {
		return
	}
	if thinking {
		o.Thinking += text
	} else {
		o.Visible += text
	}
}
