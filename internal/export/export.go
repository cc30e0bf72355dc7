// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driftchat/driftchat/internal/model"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a conversation and its messages to one output
// format.
type Exporter interface {
	// Export renders the transcript.
	Export(conv *model.Conversation, messages []*model.Message) ([]byte, error)

	// FileExtension returns the output extension (e.g. ".json").
	FileExtension() string

	// MimeType returns the MIME type of the format.
	MimeType() string
}

// =============================================================================
// FILE EXPORT
// =============================================================================

// ExportToFile renders the transcript and writes it under outputDir,
// returning the written path. The filename combines the sanitized
// title with a timestamp so repeated exports never collide.
func ExportToFile(conv *model.Conversation, messages []*model.Message, exporter Exporter, outputDir string) (string, error) {
	content, err := exporter.Export(conv, messages)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.Title), timestamp, exporter.FileExtension())

	outputPath := filepath.Join(outputDir, filename)
	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// sanitizeFilename replaces characters that are invalid in filenames
// on Windows or Unix.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	replacer := map[rune]rune{
		'/': '-', '\\': '-', ':': '-', '*': '-', '?': '-',
		'"': '-', '<': '-', '>': '-', '|': '-',
		' ': '_', '\t': '_', '\n': '_', '\r': '_',
	}

	var result []rune
	for _, r := range runes {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}
