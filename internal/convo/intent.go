package convo

import "strings"

// Intent is the task a message asks for.
type Intent string

const (
	IntentListOrders   Intent = "get_available_orders"
	IntentReleaseOrder Intent = "release_order"
	IntentNone         Intent = "none"
)

// IntentRule maps a keyword set to an intent.
type IntentRule struct {
	Intent   Intent
	Keywords []string
}

// DefaultRules are evaluated in order and the first rule with a keyword
// contained in the message wins. Listing is checked before release, so
// "list orders and release order 1234567" is a listing request.
var DefaultRules = []IntentRule{
	{
		Intent: IntentListOrders,
		Keywords: []string{
			"available orders", "production orders", "orders for plant",
			"existing process orders", "list orders", "show me orders",
			"current orders", "pending orders", "active orders", "open orders",
			"tell me orders", "display orders", "report orders", "get orders",
		},
	},
	{
		Intent:   IntentReleaseOrder,
		Keywords: []string{"release order", "release production order", "activate order", "start order"},
	},
}

// Classifier matches messages against an ordered rule list.
type Classifier struct {
	rules []IntentRule
}

// NewClassifier uses DefaultRules when rules is empty.
func NewClassifier(rules []IntentRule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify returns IntentNone when no rule matches.
func (c *Classifier) Classify(text string) Intent {
	lower := strings.ToLower(text)
	for _, rule := range c.rules {
		if containsAny(lower, rule.Keywords) {
			return rule.Intent
		}
	}
	return IntentNone
}

// Classify runs the default rules.
func Classify(text string) Intent {
	return NewClassifier(nil).Classify(text)
}
