package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"document-qa/internal/config"
	"document-qa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type fakeChat struct {
	reply    string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
	calls    int
}

func (f *fakeChat) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeChat) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeChat) userPrompt() string {
	return f.messages[len(f.messages)-1].Parts[0].(llms.TextContent).Text
}

func newTestRefiner(chat llms.Model) *Refiner {
	cfg := config.Default()
	return NewRefiner(chat, &cfg.RAG, &cfg.InferenceLLM)
}

func results(texts ...string) []models.SearchResult {
	out := make([]models.SearchResult, len(texts))
	for i, t := range texts {
		out[i] = models.SearchResult{Chunk: models.Chunk{PageNum: i + 1, ChunkID: i, Text: t}, Position: i}
	}
	return out
}

const validReply = `[
  {"page_num": 2, "text": "Kary za naruszenie obowiązku.", "explanation": "Opisuje kary.", "score": "95%", "relevant": true},
  {"page_num": 1, "text": "Art. 5 obowiązek rejestracji.", "explanation": "Pośrednio.", "score": "40%", "relevant": false}
]`

func TestRefine_Valid(t *testing.T) {
	chat := &fakeChat{reply: validReply}
	r := newTestRefiner(chat)

	got, err := r.Refine(context.Background(), "jakie są kary?", results("a", "b"))

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.RefinedCandidate{
		PageNum: 2, Text: "Kary za naruszenie obowiązku.", Explanation: "Opisuje kary.", Score: "95%", Relevant: true,
	}, got[0])
	assert.InDelta(t, 0.2, chat.opts.Temperature, 1e-9)
	assert.Equal(t, 1200, chat.opts.MaxTokens)
	require.Len(t, chat.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, chat.messages[0].Role)
}

func TestRefine_OnlyFirstCandidatesAreSent(t *testing.T) {
	chat := &fakeChat{reply: "[]"}
	r := newTestRefiner(chat)
	texts := make([]string, 15)
	for i := range texts {
		texts[i] = fmt.Sprintf("fragment numer %d", i+1)
	}

	_, err := r.Refine(context.Background(), "q", results(texts...))

	require.NoError(t, err)
	prompt := chat.userPrompt()
	assert.Contains(t, prompt, "Fragment 10 - Strona 10: fragment numer 10\n")
	assert.NotContains(t, prompt, "Fragment 11")
	assert.NotContains(t, prompt, "fragment numer 11")
}

func TestRefine_MissingKeyYieldsEmpty(t *testing.T) {
	chat := &fakeChat{reply: `[
		{"page_num": 1, "text": "a", "explanation": "b", "score": "90%", "relevant": true},
		{"page_num": 2, "text": "a", "explanation": "b", "score": "80%"}
	]`}

	got, err := newTestRefiner(chat).Refine(context.Background(), "q", results("a", "b"))

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRefine_InvalidJSONYieldsEmpty(t *testing.T) {
	for _, reply := range []string{
		"Oto wynik: nie wiem",
		`{"page_num": 1}`,
		`[{"page_num": 1, "text": "a"`,
	} {
		got, err := newTestRefiner(&fakeChat{reply: reply}).Refine(context.Background(), "q", results("a"))
		require.NoError(t, err)
		assert.Empty(t, got, "reply %q", reply)
	}
}

func TestRefine_BadValueKeepsCandidate(t *testing.T) {
	chat := &fakeChat{reply: `[{"page_num": "jeden", "text": "a", "explanation": "b", "score": "1%", "relevant": true}]`}

	got, err := newTestRefiner(chat).Refine(context.Background(), "q", results("a"))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].PageNum)
	assert.Equal(t, "a", got[0].Text)
	assert.True(t, got[0].Relevant)
}

func TestRefine_ChatErrorIsReturned(t *testing.T) {
	chat := &fakeChat{err: errors.New("API returned unexpected status code: 401")}

	_, err := newTestRefiner(chat).Refine(context.Background(), "q", results("a"))

	assert.ErrorContains(t, err, "401")
}

func TestRefine_NoCandidatesSkipsModel(t *testing.T) {
	chat := &fakeChat{}

	got, err := newTestRefiner(chat).Refine(context.Background(), "q", nil)

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, chat.calls)
}

func TestRefine_EnforceThreshold(t *testing.T) {
	chat := &fakeChat{reply: `[
		{"page_num": 1, "text": "a", "explanation": "b", "score": "95%", "relevant": false},
		{"page_num": 2, "text": "a", "explanation": "b", "score": "50%", "relevant": true},
		{"page_num": 3, "text": "a", "explanation": "b", "score": "n/a", "relevant": true}
	]`}
	cfg := config.Default()
	cfg.RAG.EnforceThreshold = true
	r := NewRefiner(chat, &cfg.RAG, &cfg.InferenceLLM)

	got, err := r.Refine(context.Background(), "q", results("a", "b", "c"))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].PageNum)
	assert.True(t, got[0].Relevant)
}

func TestBuildPrompt(t *testing.T) {
	r := newTestRefiner(&fakeChat{})
	long := strings.Repeat("ż", 250)

	prompt := r.BuildPrompt("jakie są kary?", []models.SearchResult{
		{Chunk: models.Chunk{PageNum: 4, Text: "linia\ndruga"}},
		{Chunk: models.Chunk{PageNum: 9, Text: long}},
	})

	assert.Contains(t, prompt, `Zapytanie prawne: "jakie są kary?"`)
	assert.Contains(t, prompt, "Fragment 1 - Strona 4: linia druga\n")
	assert.Contains(t, prompt, "Fragment 2 - Strona 9: "+strings.Repeat("ż", 200)+"...\n")
	assert.Contains(t, prompt, `"75%"`)
	assert.NotContains(t, prompt, "%!")
}

func TestParseRefined(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []models.RefinedCandidate
	}{
		{
			name:  "code fence and think block",
			reply: "<think>rozważam</think>\n```json\n[{\"page_num\": 3, \"text\": \"t\", \"explanation\": \"e\", \"score\": \"70%\", \"relevant\": true}]\n```",
			want:  []models.RefinedCandidate{{PageNum: 3, Text: "t", Explanation: "e", Score: "70%", Relevant: true}},
		},
		{
			name:  "numeric score and string fields",
			reply: `[{"page_num": "5", "text": "t", "explanation": "e", "score": 62.5, "relevant": "True", "extra": 1}]`,
			want:  []models.RefinedCandidate{{PageNum: 5, Text: "t", Explanation: "e", Score: "62.5%", Relevant: true}},
		},
		{
			name:  "page range is kept with zero page",
			reply: `[{"page_num": "2-3", "text": "t", "explanation": "e", "score": "40%", "relevant": false}]`,
			want:  []models.RefinedCandidate{{PageNum: 0, Text: "t", Explanation: "e", Score: "40%", Relevant: false}},
		},
		{
			name: "wrong value types fall back to zero values",
			reply: `[
				{"page_num": "Strona 2", "text": "t", "explanation": "e", "score": "80%", "relevant": null},
				{"page_num": 4, "text": 7, "explanation": null, "score": null, "relevant": "tak"}
			]`,
			want: []models.RefinedCandidate{
				{PageNum: 0, Text: "t", Explanation: "e", Score: "80%", Relevant: false},
				{PageNum: 4},
			},
		},
		{
			name:  "empty array",
			reply: "[]",
			want:  []models.RefinedCandidate{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRefined(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRefined_MissingKey(t *testing.T) {
	_, err := ParseRefined(`[{"page_num": 1, "text": "t", "explanation": "e", "relevant": true}]`)

	assert.ErrorIs(t, err, ErrMissingKey)
	assert.ErrorContains(t, err, "score")
}
