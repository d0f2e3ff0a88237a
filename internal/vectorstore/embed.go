package vectorstore

import (
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// NewEmbeddingFunc embeds text through an OpenAI-compatible /embeddings
// endpoint, the same server the chat model runs on.
func NewEmbeddingFunc(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAICompat(strings.TrimSuffix(baseURL, "/"), apiKey, model, nil)
}
