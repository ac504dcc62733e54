package report

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"document-qa/internal/config"
	"document-qa/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	textBlockTemplate = "Strona %d (Wynik: %s - Istotny: %v):\nTekst: %s\nWyjaśnienie: %s\n-----\n\n"
	mdBlockTemplate   = "### Strona %d (Wynik: %s - Istotny: %v)\n\n**Tekst:** %s\n\n**Wyjaśnienie:** %s\n\n---\n\n"
)

// ParsePercentage reads "75%", "75" or "62.5 %". Anything else is 0.
func ParsePercentage(score string) float64 {
	s := strings.Trim(strings.TrimSpace(score), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Sort returns a copy of cands ordered by descending score. Equal scores keep
// their input order.
func Sort(cands []models.RefinedCandidate) []models.RefinedCandidate {
	sorted := append([]models.RefinedCandidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ParsePercentage(sorted[i].Score) > ParsePercentage(sorted[j].Score)
	})
	return sorted
}

// Format renders the plain-text report.
func Format(cands []models.RefinedCandidate) string {
	var b strings.Builder
	for _, c := range Sort(cands) {
		fmt.Fprintf(&b, textBlockTemplate, c.PageNum, c.Score, c.Relevant, c.Text, c.Explanation)
	}
	return b.String()
}

// Markdown renders the report as markdown.
func Markdown(cands []models.RefinedCandidate) string {
	var b strings.Builder
	for _, c := range Sort(cands) {
		fmt.Fprintf(&b, mdBlockTemplate, c.PageNum, c.Score, c.Relevant, oneLine(c.Text), oneLine(c.Explanation))
	}
	return b.String()
}

// HTML renders the markdown report to HTML.
func HTML(cands []models.RefinedCandidate) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(cands)), &buf); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return buf.String(), nil
}

// Render picks the renderer for format.
func Render(cands []models.RefinedCandidate, format string) (string, error) {
	switch format {
	case config.FormatText, "":
		return Format(cands), nil
	case config.FormatMarkdown:
		return Markdown(cands), nil
	case config.FormatHTML:
		return HTML(cands)
	default:
		return "", fmt.Errorf("unknown report format %q", format)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
