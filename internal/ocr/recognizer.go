// Package ocr turns screenshots into text.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Recognizer extracts text from an image
type Recognizer interface {
	RecognizeText(ctx context.Context, image []byte) (string, error)
}

// ContainsText reports whether the recognized text contains needle, ignoring case
func ContainsText(ctx context.Context, r Recognizer, image []byte, needle string) (bool, error) {
	text, err := r.RecognizeText(ctx, image)
	if err != nil {
		return false, err
	}
	return ContainsFold(text, needle), nil
}

// ContainsFold is a case-insensitive substring check
func ContainsFold(text, needle string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(needle))
}

// TesseractConfig configures the tesseract binary
type TesseractConfig struct {
	Binary   string
	Language string
}

// Tesseract recognizes text by piping images through the tesseract CLI
type Tesseract struct {
	config TesseractConfig
}

// NewTesseract creates a recognizer; defaults to Ukrainian
func NewTesseract(config TesseractConfig) *Tesseract {
	if config.Binary == "" {
		config.Binary = "tesseract"
	}
	if config.Language == "" {
		config.Language = "ukr"
	}
	return &Tesseract{config: config}
}

// RecognizeText runs tesseract on the image
func (t *Tesseract) RecognizeText(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}

	cmd := exec.CommandContext(ctx, t.config.Binary, "stdin", "stdout", "-l", t.config.Language)
	cmd.Stdin = bytes.NewReader(image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}
