package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"document-qa/internal/config"
	"document-qa/internal/llmservice"
	"document-qa/internal/metrics"
	"document-qa/internal/models"
	"document-qa/internal/report"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

const (
	defaultMaxCandidates = 10
	defaultPreviewLen    = 200
)

var (
	ErrMissingKey = errors.New("missing key")

	thinkRe = regexp.MustCompile(models.ThinkTag)
	fenceRe = regexp.MustCompile(models.CodeFence)
)

// Refiner asks a chat model to judge, explain and score retrieved chunks.
type Refiner struct {
	model         llms.Model
	maxCandidates int
	previewLen    int
	temperature   float64
	maxTokens     int
	enforce       bool
	threshold     float64
}

func NewRefiner(model llms.Model, ragCfg *config.RAGConfig, llmCfg *config.LLMConfig) *Refiner {
	r := &Refiner{
		model:         model,
		maxCandidates: ragCfg.MaxCandidates,
		previewLen:    ragCfg.PreviewLen,
		temperature:   llmCfg.Temperature,
		maxTokens:     llmCfg.MaxTokens,
		enforce:       ragCfg.EnforceThreshold,
		threshold:     ragCfg.RelevanceThreshold,
	}
	if r.maxCandidates <= 0 {
		r.maxCandidates = defaultMaxCandidates
	}
	if r.previewLen <= 0 {
		r.previewLen = defaultPreviewLen
	}
	return r
}

// Refine sends the first maxCandidates results to the model. A reply that is
// not a JSON array of complete objects yields an empty result and a nil
// error; transport errors are returned.
func (r *Refiner) Refine(ctx context.Context, query string, candidates []models.SearchResult) ([]models.RefinedCandidate, error) {
	if len(candidates) > r.maxCandidates {
		candidates = candidates[:r.maxCandidates]
	}
	if len(candidates) == 0 {
		log.Info().Msg("Brak fragmentów kandydackich do oceny.")
		return nil, nil
	}

	prompt := r.BuildPrompt(query, candidates)
	log.Debug().Int("candidates", len(candidates)).Msg("Refining candidates")

	raw, err := llmservice.GenerateContent(ctx, r.model, models.RefineSystemPrompt, prompt,
		llms.WithTemperature(r.temperature),
		llms.WithMaxTokens(r.maxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("refinement request failed: %w", err)
	}

	refined, err := ParseRefined(raw)
	if err != nil {
		log.Error().Err(err).Str("response", raw).Msg("Błąd podczas parsowania JSON z odpowiedzi modelu")
		return nil, nil
	}
	if r.enforce {
		refined = r.applyThreshold(refined)
	}
	metrics.RefinedCandidatesTotal.Add(float64(len(refined)))
	return refined, nil
}

// BuildPrompt renders the refinement prompt for query and candidates.
func (r *Refiner) BuildPrompt(query string, candidates []models.SearchResult) string {
	var list strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&list, models.CandidateLineTemplate, i+1, c.Chunk.PageNum, preview(c.Chunk.Text, r.previewLen))
	}
	return fmt.Sprintf(models.RefinePromptTemplate, query, list.String())
}

func (r *Refiner) applyThreshold(cands []models.RefinedCandidate) []models.RefinedCandidate {
	kept := cands[:0:0]
	for _, c := range cands {
		if report.ParsePercentage(c.Score) <= r.threshold {
			continue
		}
		c.Relevant = true
		kept = append(kept, c)
	}
	return kept
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return strings.ReplaceAll(text, "\n", " ")
	}
	return strings.ReplaceAll(string(runes[:n]), "\n", " ") + models.PreviewEllipsis
}

// ParseRefined decodes a model reply. Every object must carry all of
// models.RequiredRefinedKeys; extra keys are ignored.
func ParseRefined(raw string) ([]models.RefinedCandidate, error) {
	body := strings.TrimSpace(thinkRe.ReplaceAllString(raw, ""))
	if m := fenceRe.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	var objects []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &objects); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	out := make([]models.RefinedCandidate, 0, len(objects))
	for i, obj := range objects {
		for _, key := range models.RequiredRefinedKeys {
			if _, ok := obj[key]; !ok {
				return nil, fmt.Errorf("object %d: %w: %s", i, ErrMissingKey, key)
			}
		}
		out = append(out, decodeCandidate(i, obj))
	}
	return out, nil
}

// decodeCandidate never fails: a value of the wrong type is logged and left
// at its zero value.
func decodeCandidate(i int, obj map[string]json.RawMessage) models.RefinedCandidate {
	var c models.RefinedCandidate
	warn := func(key string, err error) {
		log.Warn().Err(err).Int("object", i).Str("key", key).RawJSON("value", obj[key]).
			Msg("Nieprawidłowa wartość w odpowiedzi modelu")
	}
	var err error
	if c.PageNum, err = decodeInt(obj["page_num"]); err != nil {
		warn("page_num", err)
	}
	if c.Text, err = decodeString(obj["text"]); err != nil {
		warn("text", err)
	}
	if c.Explanation, err = decodeString(obj["explanation"]); err != nil {
		warn("explanation", err)
	}
	if c.Score, err = decodeScore(obj["score"]); err != nil {
		warn("score", err)
	}
	if c.Relevant, err = decodeBool(obj["relevant"]); err != nil {
		warn("relevant", err)
	}
	return c
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// decodeInt accepts 3, 3.0 and "3".
func decodeInt(raw json.RawMessage) (int, error) {
	raw = unquote(raw)
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// decodeScore accepts "75%" as is and turns a bare number into "75%".
func decodeScore(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return "", nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", err
	}
	return strconv.FormatFloat(f, 'f', -1, 64) + "%", nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	return strconv.ParseBool(strings.ToLower(string(unquote(raw))))
}

func unquote(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	return raw
}
