// Package tokens estimates prompt and completion sizes with the model's
// BPE encoding. BPE tables are compiled in, so estimation never touches the
// network.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
)

const DefaultEncoding = "cl100k_base"

const (
	perMessageOverhead = 3
	replyPriming       = 3
)

// encodingByModel is matched exactly after lower-casing.
var encodingByModel = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4.1":                "o200k_base",
	"gpt-4.1-mini":           "o200k_base",
	"gpt-4.1-nano":           "o200k_base",
	"openai/gpt-4o":          "o200k_base",
	"openai/gpt-4o-mini":     "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"openai/gpt-4":           "cl100k_base",
	"openai/gpt-3.5-turbo":   "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
}

var loaderOnce sync.Once

type Estimator struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
	fallback  *tiktoken.Tiktoken
}

func NewEstimator() (*Estimator, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("load default encoding: %w", err)
	}
	return &Estimator{
		encodings: map[string]*tiktoken.Tiktoken{DefaultEncoding: enc},
		fallback:  enc,
	}, nil
}

// EncodingName reports which encoding model resolves to.
func EncodingName(model string) string {
	if name, ok := encodingByModel[strings.ToLower(strings.TrimSpace(model))]; ok {
		return name
	}
	return DefaultEncoding
}

func (e *Estimator) encodingFor(model string) *tiktoken.Tiktoken {
	name := EncodingName(model)

	e.mu.RLock()
	enc, ok := e.encodings[name]
	e.mu.RUnlock()
	if ok {
		return enc
	}

	loaded, err := tiktoken.GetEncoding(name)
	if err != nil {
		loaded = e.fallback
	}
	e.mu.Lock()
	e.encodings[name] = loaded
	e.mu.Unlock()
	return loaded
}

func (e *Estimator) count(enc *tiktoken.Tiktoken, s string) int {
	if s == "" {
		return 0
	}
	return len(enc.Encode(s, nil, nil))
}

// Estimate counts a chat message list the way chat-completion APIs bill it.
func (e *Estimator) Estimate(messages []ai.Message, model string) int {
	enc := e.encodingFor(model)
	total := replyPriming
	for _, m := range messages {
		total += perMessageOverhead + e.count(enc, m.Role) + e.count(enc, m.Content)
	}
	return total
}

// EstimateText counts a bare reply.
func (e *Estimator) EstimateText(text, model string) int {
	return e.count(e.encodingFor(model), text)
}
