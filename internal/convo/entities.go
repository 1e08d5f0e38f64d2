package convo

import (
	"context"
	"regexp"
	"strings"
)

// Entity labels set by the extractor itself.
const (
	EntityPlant = "PLANT"
	EntityOrder = "ORDER"
)

// Entities maps an entity label to the text span found for it.
type Entities map[string]string

// Recognizer finds named entities in free text.
type Recognizer interface {
	Recognize(ctx context.Context, text string) map[string]string
}

// NoopRecognizer finds nothing. Used when no NLU backend is configured.
type NoopRecognizer struct{}

func (NoopRecognizer) Recognize(context.Context, string) map[string]string { return nil }

var (
	plantKeywords = []string{"plant", "factory", "location", "site"}
	plantPattern  = regexp.MustCompile(`\b[A-Za-z]?\d{3,4}\b`)
	orderPattern  = regexp.MustCompile(`\b\d{7}\b`)
)

// Extractor derives plant codes, order ids and recognizer entities from a message.
type Extractor struct {
	recognizer Recognizer
}

// NewExtractor wraps a recognizer. A nil recognizer finds nothing.
func NewExtractor(r Recognizer) *Extractor {
	if r == nil {
		r = NoopRecognizer{}
	}
	return &Extractor{recognizer: r}
}

// Extract never fails; labels without a match are simply absent. The plant
// and order heuristics overwrite whatever the recognizer returned for them.
func (x *Extractor) Extract(ctx context.Context, text string) Entities {
	ents := make(Entities)
	for label, span := range x.recognizer.Recognize(ctx, text) {
		ents[label] = span
	}

	if containsAny(strings.ToLower(text), plantKeywords) {
		if m := plantPattern.FindString(text); m != "" {
			ents[EntityPlant] = m
		}
	}
	if m := orderPattern.FindString(text); m != "" {
		ents[EntityOrder] = m
	}
	return ents
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
