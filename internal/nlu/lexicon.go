package nlu

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// normalizationAlpha approximates the maximum expected raw score.
const normalizationAlpha = 15.0

var defaultValence = map[string]float64{
	"good": 1.9, "great": 3.1, "excellent": 3.2, "thanks": 1.9, "thank": 1.5,
	"please": 1.3, "nice": 1.8, "happy": 2.7, "perfect": 2.7, "ok": 0.9,
	"okay": 0.9, "fine": 0.8, "awesome": 3.1, "love": 3.2, "glad": 2.0,
	"bad": -2.5, "terrible": -2.5, "awful": -2.0, "wrong": -2.1, "late": -0.8,
	"delay": -1.2, "delayed": -1.2, "problem": -1.7, "broken": -1.9,
	"angry": -2.3, "hate": -2.7, "urgent": -0.6, "stuck": -1.6, "fail": -2.3,
	"failed": -2.3, "useless": -1.8, "annoying": -1.7, "worst": -3.1,
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "dont": true,
	"isn't": true, "isnt": true, "can't": true, "cant": true, "won't": true,
	"didn't": true, "didnt": true, "without": true,
}

// Lexicon is a small valence-dictionary sentiment scorer with VADER-style
// negation flipping and normalisation. It needs no network access.
type Lexicon struct {
	valence map[string]float64
}

// NewLexicon returns a scorer using the built-in word list.
func NewLexicon() *Lexicon {
	return &Lexicon{valence: defaultValence}
}

// Score returns a compound polarity in [-1, 1].
func (l *Lexicon) Score(_ context.Context, text string) float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	sum := 0.0
	for i, w := range words {
		v, ok := l.valence[w]
		if !ok {
			continue
		}
		// a negation within the three preceding words flips polarity
		for j := i - 1; j >= 0 && j >= i-3; j-- {
			if negations[words[j]] {
				v *= -0.74
				break
			}
		}
		sum += v
	}
	if strings.Count(text, "!") > 0 && sum != 0 {
		boost := 0.292 * math.Min(float64(strings.Count(text, "!")), 4)
		if sum > 0 {
			sum += boost
		} else {
			sum -= boost
		}
	}
	if sum == 0 {
		return 0
	}
	return clamp(sum / math.Sqrt(sum*sum+normalizationAlpha))
}
