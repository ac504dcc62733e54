package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"document-qa/internal/metrics"
	"document-qa/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

var ErrExtractTimeout = errors.New("text extraction timed out")

// pageSource is the native text layer of a paged document.
type pageSource interface {
	NumPage() int
	PageText(pageNum int) (string, error)
	Close() error
}

type pdfSource struct {
	f      *os.File
	reader *pdf.Reader
}

func openPDF(path string) (pageSource, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	return &pdfSource{f: f, reader: reader}, nil
}

func (s *pdfSource) NumPage() int { return s.reader.NumPage() }

func (s *pdfSource) PageText(pageNum int) (string, error) {
	page := s.reader.Page(pageNum)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d not found", pageNum)
	}
	return page.GetPlainText(nil)
}

func (s *pdfSource) Close() error { return s.f.Close() }

// parsePDF walks every page, falling back to OCR when the text layer is too thin.
func (e *Extractor) parsePDF(ctx context.Context, filePath string) ([]models.Page, error) {
	src, err := e.openPDF(filePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	total := src.NumPage()
	log.Info().Int("pages", total).Msgf("Całkowita liczba stron w PDF: %d", total)

	var pages []models.Page
	for pageNum := 1; pageNum <= total; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := e.extractPage(ctx, src, filePath, pageNum)
		if strings.TrimSpace(text) == "" {
			log.Warn().Int("page", pageNum).Msgf("Strona %d nie zawiera tekstu.", pageNum)
			metrics.PagesDroppedTotal.Inc()
			continue
		}
		pages = append(pages, models.Page{PageNum: pageNum, Text: text})
	}

	log.Info().Int("pages", len(pages)).Int("total", total).
		Msgf("Ekstrahowano tekst ze %d spośród %d stron.", len(pages), total)
	return pages, nil
}

func (e *Extractor) extractPage(ctx context.Context, src pageSource, filePath string, pageNum int) string {
	text, err := e.extractNative(ctx, src, pageNum)
	if err != nil {
		if errors.Is(err, ErrExtractTimeout) {
			log.Warn().Int("page", pageNum).Msg("Przekroczono limit czasu ekstrakcji tekstu; przechodzę do OCR.")
		} else {
			log.Warn().Err(err).Int("page", pageNum).Msg("Błąd podczas ekstrakcji tekstu")
		}
		text = ""
	}

	chars := countNonSpace(text)
	if chars >= e.ocrThreshold {
		metrics.PagesTotal.WithLabelValues("native").Inc()
		return text
	}
	if e.recognizer == nil {
		if chars > 0 {
			metrics.PagesTotal.WithLabelValues("native").Inc()
		}
		return text
	}

	log.Info().Int("page", pageNum).Int("chars", chars).
		Msgf("Strona %d: Tylko %d znaków. Wywołuję OCR...", pageNum, chars)
	ocrText, err := e.recognizer.RecognizePage(ctx, filePath, pageNum)
	if err != nil {
		log.Error().Err(err).Int("page", pageNum).Msgf("Błąd OCR na stronie %d", pageNum)
		return ""
	}
	if strings.TrimSpace(ocrText) != "" {
		metrics.PagesTotal.WithLabelValues("ocr").Inc()
	}
	return ocrText
}

// extractNative reads one page's text layer, giving up after e.timeout. The
// reader goroutine is not interrupted; its late result is discarded. src is
// shared: an abandoned goroutine keeps reading it while later pages are
// extracted and after parsePDF closes it. Errors and panics from that overlap
// end up in the buffered done channel, which nobody reads any more.
func (e *Extractor) extractNative(ctx context.Context, src pageSource, pageNum int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("page %d: %v", pageNum, r)}
			}
		}()
		text, err := src.PageText(pageNum)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("page %d: %w: %w", pageNum, ErrExtractTimeout, ctx.Err())
	}
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
