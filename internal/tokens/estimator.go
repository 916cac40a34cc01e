// Package tokens estimates token counts with tiktoken when a provider
// does not report usage.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

// DefaultEncoding is cl100k_base, close enough for every supported family
const DefaultEncoding = "cl100k_base"

// perMessageOverhead approximates role and framing tokens
const perMessageOverhead = 4

// Estimator counts tokens with tiktoken
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the global estimator
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			L_warn("tokens: failed to create estimator, using fallback", "error", err)
			globalEstimator = &Estimator{} // chars/4
		}
	})
	return globalEstimator
}

// New creates an estimator with DefaultEncoding
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for text.
// Falls back to chars/4 if tiktoken is unavailable.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.encoding == nil {
		return (len(text) + 3) / 4
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessages sums Count over texts plus a per-message overhead
func (e *Estimator) CountMessages(texts []string) int {
	total := 0
	for _, t := range texts {
		total += e.Count(t) + perMessageOverhead
	}
	return total
}

// Estimate is a convenience function using the global estimator
func Estimate(text string) int {
	return Get().Count(text)
}

// EstimateMessages is CountMessages on the global estimator
func EstimateMessages(texts []string) int {
	return Get().CountMessages(texts)
}
