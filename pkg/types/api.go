package types

// GenerateRequest is the JSON body of POST /v1/generate and
// POST /v1/generate/stream.
type GenerateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// GenerateResponse is the reply for a non-streaming generation.
type GenerateResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// StreamChunk is one NDJSON line of a streaming generation. The final line
// carries Done=true and no token.
type StreamChunk struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
}

// EmbedRequest is the JSON body of POST /v1/embed.
type EmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbedResponse carries the embedding vector for one input.
type EmbedResponse struct {
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
}

// BatchEmbedRequest is the JSON body of POST /v1/embed/batch.
type BatchEmbedRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

// BatchEmbedResponse carries one vector per input, in order.
type BatchEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}
