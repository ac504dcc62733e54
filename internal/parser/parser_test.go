package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"document-qa/internal/config"
	"document-qa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	text  string
	err   error
	block chan struct{}
	done  chan struct{}
	panic bool
}

type fakeSource struct {
	pages  []fakePage
	closed bool
}

func (s *fakeSource) NumPage() int { return len(s.pages) }

func (s *fakeSource) PageText(pageNum int) (string, error) {
	p := s.pages[pageNum-1]
	if p.done != nil {
		defer close(p.done)
	}
	if p.block != nil {
		<-p.block
	}
	if p.panic {
		panic("malformed content stream")
	}
	return p.text, p.err
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeRecognizer struct {
	texts map[int]string
	errs  map[int]error
	calls []int
}

func (r *fakeRecognizer) RecognizePage(_ context.Context, _ string, pageNum int) (string, error) {
	r.calls = append(r.calls, pageNum)
	if err := r.errs[pageNum]; err != nil {
		return "", err
	}
	return r.texts[pageNum], nil
}

func newTestExtractor(t *testing.T, src *fakeSource, rec Recognizer) (*Extractor, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	e := NewExtractor(&config.ExtractConfig{TimeoutSecs: 5, OCRThreshold: 20}, rec)
	e.openPDF = func(string) (pageSource, error) { return src, nil }
	return e, path
}

func TestExtractPages_MissingFile(t *testing.T) {
	e := NewExtractor(nil, nil)

	_, err := e.ExtractPages(context.Background(), filepath.Join(t.TempDir(), "brak.pdf"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileNotFound))
}

func TestExtractPages_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.odt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := NewExtractor(nil, nil).ExtractPages(context.Background(), path)

	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractPages_NativeAndOCR(t *testing.T) {
	src := &fakeSource{pages: []fakePage{
		{text: "Art. 5 obowiązek rejestracji w terminie 14 dni"},
		{text: "  \n "},
	}}
	rec := &fakeRecognizer{texts: map[int]string{2: "Kary za naruszenie"}}
	e, path := newTestExtractor(t, src, rec)

	pages, err := e.ExtractPages(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, []models.Page{
		{PageNum: 1, Text: "Art. 5 obowiązek rejestracji w terminie 14 dni"},
		{PageNum: 2, Text: "Kary za naruszenie"},
	}, pages)
	assert.Equal(t, []int{2}, rec.calls)
	assert.True(t, src.closed)
}

func TestExtractPages_ThresholdCountsNonSpace(t *testing.T) {
	// 19 visible characters padded with whitespace
	short := "a b c d e f g h i j k l m n o p q r s"
	src := &fakeSource{pages: []fakePage{{text: short}}}
	rec := &fakeRecognizer{texts: map[int]string{1: "tekst z OCR"}}
	e, path := newTestExtractor(t, src, rec)

	pages, err := e.ExtractPages(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "tekst z OCR", pages[0].Text)
}

func TestExtractPages_NativeFailureFallsBackToOCR(t *testing.T) {
	src := &fakeSource{pages: []fakePage{
		{err: errors.New("bad xref")},
		{panic: true},
	}}
	rec := &fakeRecognizer{texts: map[int]string{1: "jeden", 2: "dwa"}}
	e, path := newTestExtractor(t, src, rec)

	pages, err := e.ExtractPages(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "jeden", pages[0].Text)
	assert.Equal(t, "dwa", pages[1].Text)
}

func TestExtractPages_TimeoutFallsBackToOCR(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	src := &fakeSource{pages: []fakePage{{text: strings.Repeat("x", 50), block: block}}}
	rec := &fakeRecognizer{texts: map[int]string{1: "z obrazu"}}
	e, path := newTestExtractor(t, src, rec)
	e.timeout = 20 * time.Millisecond

	start := time.Now()
	pages, err := e.ExtractPages(context.Background(), path)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, pages, 1)
	assert.Equal(t, "z obrazu", pages[0].Text)
}

func TestExtractPages_AbandonedReaderAfterClose(t *testing.T) {
	block := make(chan struct{})
	done := make(chan struct{})
	src := &fakeSource{pages: []fakePage{
		{block: block, done: done, panic: true},
		{text: strings.Repeat("a", 30)},
		{text: strings.Repeat("b", 30)},
	}}
	rec := &fakeRecognizer{texts: map[int]string{1: "z obrazu"}}
	e, path := newTestExtractor(t, src, rec)
	e.timeout = 20 * time.Millisecond

	pages, err := e.ExtractPages(context.Background(), path)
	require.NoError(t, err)
	require.True(t, src.closed)

	close(block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned reader did not finish")
	}

	require.Len(t, pages, 3)
	assert.Equal(t, "z obrazu", pages[0].Text)
	assert.Equal(t, strings.Repeat("b", 30), pages[2].Text)
}

func TestExtractPages_OCRFailureDropsPage(t *testing.T) {
	src := &fakeSource{pages: []fakePage{
		{text: ""},
		{text: "Strona z wystarczającą ilością tekstu."},
	}}
	rec := &fakeRecognizer{errs: map[int]error{1: errors.New("tesseract: exit status 1")}}
	e, path := newTestExtractor(t, src, rec)

	pages, err := e.ExtractPages(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].PageNum)
}

func TestExtractPages_NoRecognizerKeepsShortText(t *testing.T) {
	src := &fakeSource{pages: []fakePage{{text: "krótki"}, {text: ""}}}
	e, path := newTestExtractor(t, src, nil)

	pages, err := e.ExtractPages(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, []models.Page{{PageNum: 1, Text: "krótki"}}, pages)
}

func TestExtractPages_CanceledContext(t *testing.T) {
	src := &fakeSource{pages: []fakePage{{text: "cokolwiek"}}}
	e, path := newTestExtractor(t, src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ExtractPages(ctx, path)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractPages_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notatka.txt")
	require.NoError(t, os.WriteFile(path, []byte("linia 1\nlinia 2\n"), 0o644))

	pages, err := NewExtractor(nil, nil).ExtractPages(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, []models.Page{{PageNum: 1, Text: "linia 1\nlinia 2\n"}}, pages)
}

func TestExtractTextFromXML(t *testing.T) {
	xml := `<w:body><w:p><w:r><w:t>Art. 1</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve"> &amp; 2</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Kary</w:t></w:r></w:p><w:p></w:p></w:body>`

	got := extractTextFromXML(xml, "w:t", "</w:p>")

	assert.Equal(t, "Art. 1 & 2\nKary\n", got)
}

func TestSlideNumber(t *testing.T) {
	assert.Equal(t, 12, slideNumber("ppt/slides/slide12.xml"))
	assert.Equal(t, 0, slideNumber("ppt/slides/slideLayout.xml"))
}
