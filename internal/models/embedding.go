package models

// Page is the text of one document page, numbered from 1.
type Page struct {
	PageNum int    `json:"page_num"`
	Text    string `json:"text"`
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	PageNum int    `json:"page_num"`
	ChunkID int    `json:"chunk_id"`
	Text    string `json:"text"`
}

// ChunkEmbedding keeps a vector next to the chunk it was computed from.
type ChunkEmbedding struct {
	Chunk     Chunk
	Embedding []float32
}

// SearchResult is one ranked index hit. Lower distance is closer.
type SearchResult struct {
	Chunk    Chunk
	Position int
	Distance float32
}

// RefinedCandidate is the model's judgement of a single retrieved chunk.
type RefinedCandidate struct {
	PageNum     int    `json:"page_num"`
	Text        string `json:"text"`
	Explanation string `json:"explanation"`
	Score       string `json:"score"`
	Relevant    bool   `json:"relevant"`
}

// CachedEmbedding is the unit stored by the embedding cache backends.
type CachedEmbedding struct {
	Key       string
	Model     string
	Embedding []float32
}

type PromptResponse struct {
	Query      string
	Retrieved  int
	Candidates []RefinedCandidate
}
