package convo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractor_Extract(t *testing.T) {
	tests := []struct {
		name string
		rec  Recognizer
		text string
		want Entities
	}{
		{
			name: "plant after keyword",
			text: "show me orders for plant A123",
			want: Entities{EntityPlant: "A123"},
		},
		{
			name: "numeric plant code",
			text: "list orders at site 1710 please",
			want: Entities{EntityPlant: "1710"},
		},
		{
			name: "no keyword no plant",
			text: "show me orders for A123",
			want: Entities{},
		},
		{
			name: "first plant match only",
			text: "factory B200 or factory C300",
			want: Entities{EntityPlant: "B200"},
		},
		{
			name: "order id",
			text: "release order 1234567",
			want: Entities{EntityOrder: "1234567"},
		},
		{
			name: "eight digit run is not an order id",
			text: "release order 12345678",
			want: Entities{},
		},
		{
			name: "heuristics overwrite recognizer",
			rec:  stubRecognizer{EntityPlant: "Berlin", EntityOrder: "42", "DATE": "tomorrow"},
			text: "release order 7654321 at plant P100 tomorrow",
			want: Entities{EntityPlant: "P100", EntityOrder: "7654321", "DATE": "tomorrow"},
		},
		{
			name: "recognizer value kept when heuristic misses",
			rec:  stubRecognizer{EntityPlant: "Berlin"},
			text: "what is happening at the plant",
			want: Entities{EntityPlant: "Berlin"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewExtractor(tt.rec).Extract(context.Background(), tt.text)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractor_OrderIDRegardlessOfIntent(t *testing.T) {
	x := NewExtractor(nil)
	for _, text := range []string{
		"what about 1234567",
		"show me orders for plant A123 and 1234567",
		"1234567",
	} {
		assert.Equal(t, "1234567", x.Extract(context.Background(), text)[EntityOrder], text)
	}
}
