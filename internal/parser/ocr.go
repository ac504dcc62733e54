package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"document-qa/internal/config"

	"github.com/rs/zerolog/log"
)

// Recognizer turns one rendered page of a PDF into text.
type Recognizer interface {
	RecognizePage(ctx context.Context, path string, pageNum int) (string, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// TesseractRecognizer renders a page with pdftoppm and reads it with tesseract.
type TesseractRecognizer struct {
	pdftoppm  string
	tesseract string
	language  string
	dpi       int
	timeout   time.Duration
	run       commandRunner
}

func NewTesseractRecognizer(cfg *config.OCRConfig) *TesseractRecognizer {
	return &TesseractRecognizer{
		pdftoppm:  cfg.PdftoppmPath,
		tesseract: cfg.TesseractPath,
		language:  cfg.Language,
		dpi:       cfg.DPI,
		timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
		run:       runCommand,
	}
}

func (r *TesseractRecognizer) RecognizePage(ctx context.Context, path string, pageNum int) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp("", "pdf-qa-ocr-*")
	if err != nil {
		return "", fmt.Errorf("failed to create ocr workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	page := strconv.Itoa(pageNum)
	if _, err := r.run(ctx, r.pdftoppm,
		"-f", page, "-l", page,
		"-r", strconv.Itoa(r.dpi),
		"-png", "-singlefile",
		path, prefix,
	); err != nil {
		return "", fmt.Errorf("failed to render page %d: %w", pageNum, err)
	}

	out, err := r.run(ctx, r.tesseract, prefix+".png", "stdout", "-l", r.language)
	if err != nil {
		return "", fmt.Errorf("failed to recognize page %d: %w", pageNum, err)
	}
	log.Debug().Int("page", pageNum).Int("chars", len(out)).Msg("OCR zakończony")
	return string(out), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
