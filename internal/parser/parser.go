package parser

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"document-qa/internal/config"
	"document-qa/internal/models"

	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

var (
	ErrFileNotFound      = errors.New("input file not found")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

const (
	defaultTimeout      = 5 * time.Second
	defaultOCRThreshold = 20
	defaultPageNumber   = 1
)

// Extractor turns a document on disk into ordered pages of text.
type Extractor struct {
	timeout      time.Duration
	ocrThreshold int
	recognizer   Recognizer
	openPDF      func(path string) (pageSource, error)
}

// NewExtractor builds an extractor. A nil recognizer disables the OCR fallback.
func NewExtractor(cfg *config.ExtractConfig, recognizer Recognizer) *Extractor {
	e := &Extractor{
		timeout:      defaultTimeout,
		ocrThreshold: defaultOCRThreshold,
		recognizer:   recognizer,
		openPDF:      openPDF,
	}
	if cfg != nil {
		if cfg.TimeoutSecs > 0 {
			e.timeout = time.Duration(cfg.TimeoutSecs) * time.Second
		}
		if cfg.OCRThreshold > 0 {
			e.ocrThreshold = cfg.OCRThreshold
		}
	}
	return e
}

// ExtractPages returns the non-empty pages of the document at filePath.
func (e *Extractor) ExtractPages(ctx context.Context, filePath string) ([]models.Page, error) {
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filePath)
		}
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return e.parsePDF(ctx, filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		return parseExcelize(filePath)
	case ".txt", ".md":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseDOCX(filePath string) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	text := extractTextFromXML(content, "w:t", "</w:p>")
	return singlePage(text), nil
}

func parsePPTX(filePath string) ([]models.Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pptx: %w", err)
	}
	defer f.Close()

	var slides []*zip.File
	for _, file := range f.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			slides = append(slides, file)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		return slideNumber(slides[i].Name) < slideNumber(slides[j].Name)
	})

	var pages []models.Page
	for i, file := range slides {
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideText := extractTextFromXML(string(data), "a:t", "</a:p>")
		if strings.TrimSpace(slideText) != "" {
			pages = append(pages, models.Page{PageNum: i + 1, Text: slideText})
		}
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]models.Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	var pages []models.Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Arkusz: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		pages = appendSheet(pages, sheetNum+1, text.String())
	}
	return pages, nil
}

func parseExcelize(filePath string) ([]models.Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Arkusz: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = appendSheet(pages, sheetNum+1, text.String())
	}
	return pages, nil
}

func parseText(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return singlePage(string(data)), nil
}

func singlePage(text string) []models.Page {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []models.Page{{PageNum: defaultPageNumber, Text: text}}
}

// appendSheet skips sheets holding nothing but their header line.
func appendSheet(pages []models.Page, pageNum int, text string) []models.Page {
	_, body, _ := strings.Cut(text, "\n")
	if strings.TrimSpace(body) == "" {
		return pages
	}
	return append(pages, models.Page{PageNum: pageNum, Text: text})
}

// extractTextFromXML collects the character data of every <tag> element and
// starts a new line after each paragraphEnd.
func extractTextFromXML(xmlContent, tag, paragraphEnd string) string {
	var text strings.Builder
	for _, para := range strings.Split(xmlContent, paragraphEnd) {
		var line strings.Builder
		rest := para
		for {
			start := strings.Index(rest, "<"+tag)
			if start < 0 {
				break
			}
			rest = rest[start+len(tag)+1:]
			// skip <w:tab/>-style prefixes that share the tag name
			if len(rest) == 0 || (rest[0] != '>' && rest[0] != ' ') {
				continue
			}
			open := strings.Index(rest, ">")
			if open < 0 {
				break
			}
			if open > 0 && rest[open-1] == '/' {
				rest = rest[open+1:]
				continue
			}
			rest = rest[open+1:]
			end := strings.Index(rest, "</"+tag+">")
			if end < 0 {
				break
			}
			line.WriteString(unescapeXML(rest[:end]))
			rest = rest[end:]
		}
		if line.Len() > 0 {
			text.WriteString(line.String())
			text.WriteString("\n")
		}
	}
	return text.String()
}

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}

func slideNumber(name string) int {
	n := 0
	for _, r := range strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml") {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
