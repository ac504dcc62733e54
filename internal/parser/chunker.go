package parser

import (
	"strings"

	"document-qa/internal/models"
)

const DefaultChunkSize = 500

// ChunkPage splits a page into paragraphs and cuts every paragraph longer
// than maxLen runes into fixed-size slices. ChunkIDs restart at 0.
func ChunkPage(page models.Page, maxLen int) []models.Chunk {
	return appendPageChunks(nil, page, maxLen)
}

// ChunkPages chunks pages in order. ChunkIDs run across the whole document.
func ChunkPages(pages []models.Page, maxLen int) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		chunks = appendPageChunks(chunks, page, maxLen)
	}
	return chunks
}

func appendPageChunks(chunks []models.Chunk, page models.Page, maxLen int) []models.Chunk {
	if maxLen <= 0 {
		maxLen = DefaultChunkSize
	}
	for _, para := range strings.Split(page.Text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		for start := 0; start < len(runes); start += maxLen {
			end := min(start+maxLen, len(runes))
			chunks = append(chunks, models.Chunk{
				PageNum: page.PageNum,
				ChunkID: len(chunks),
				Text:    string(runes[start:end]),
			})
		}
	}
	return chunks
}
