package models

// DocumentChunk is a bounded piece of a source document produced by the loader.
type DocumentChunk struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// VectorRecord is what the vector store keeps for one chunk.
type VectorRecord struct {
	ID        string            `json:"id"`
	Embedding []float32         `json:"embedding"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
}

// QueryResult is one nearest-neighbour hit, higher Score is more similar.
type QueryResult struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}

// CopyMetadata returns a shallow copy so chunks never share a map.
func CopyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
