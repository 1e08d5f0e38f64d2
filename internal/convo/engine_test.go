package convo

import (
	"context"
	"fmt"
	"testing"

	"order-chatbot/internal/auth"
	"order-chatbot/internal/dmc"
	"order-chatbot/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine *Engine
	api    *fakeOrderAPI
	store  *fakeStore
	scorer *stubScorer
}

func newEngineFixture(t *testing.T, tokens TokenSource) *engineFixture {
	t.Helper()
	f := &engineFixture{
		api:    &fakeOrderAPI{},
		store:  &fakeStore{},
		scorer: &stubScorer{score: 0.25},
	}
	if tokens == nil {
		tokens = fakeTokens{token: "tok"}
	}
	f.engine = New(Deps{
		Recognizer: stubRecognizer{"DATE": "today"},
		Sentiment:  f.scorer,
		Orders:     f.api,
		Releaser:   f.api,
		Tokens:     tokens,
		Store:      f.store,
		Metrics:    metrics.New("test"),
		Logger:     discardLogger(),
	})
	return f
}

func TestEngine_ListThenRelease(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	f.api.setOrders(
		order(t, "1234567", "RELEASED", "2024-03-01T08:00:00Z"),
		order(t, "7654321", "PLANNED", "2024-03-02T08:00:00Z"),
	)

	reply, err := f.engine.Handle(ctx, "show me orders for plant A123", "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"A123"}, f.api.listCalls)
	assert.Contains(t, reply, "Order: 7654321,")
	assert.NotContains(t, reply, "1234567")
	assert.Equal(t, reply, f.engine.LastSnapshot().Text)

	reply, err = f.engine.Handle(ctx, "release order 1234567", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Order 1234567 not found.", reply)
	assert.Empty(t, f.api.releases)

	reply, err = f.engine.Handle(ctx, "release order 7654321", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Order 7654321 has been released successfully.", reply)
	require.Len(t, f.api.releases, 1)
	assert.Equal(t, dmc.ReleaseRequest{Order: "7654321", Plant: "A123", QuantityToRelease: 10}, f.api.releases[0])

	assert.Len(t, f.scorer.calls, 3, "sentiment is computed for every message")
}

func TestEngine_SecondListingReplacesFirst(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.api.setOrders(order(t, "1111111", "PLANNED", "2024-03-01T08:00:00Z"))
	_, err := f.engine.Handle(ctx, "list orders for plant A123", "tok")
	require.NoError(t, err)

	f.api.setOrders(order(t, "2222222", "PLANNED", "2024-03-01T08:00:00Z"))
	_, err = f.engine.Handle(ctx, "list orders for plant A123", "tok")
	require.NoError(t, err)

	reply, err := f.engine.Handle(ctx, "release order 1111111", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Order 1111111 not found.", reply)

	reply, err = f.engine.Handle(ctx, "release order 2222222", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Order 2222222 has been released successfully.", reply)
}

func TestEngine_EmptyListingClearsSnapshot(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.api.setOrders(order(t, "1234567", "PLANNED", "2024-03-01T08:00:00Z"))
	_, err := f.engine.Handle(ctx, "list orders for plant A123", "tok")
	require.NoError(t, err)
	require.False(t, f.engine.LastSnapshot().Empty())

	f.api.setOrders(order(t, "1234567", "RELEASED", "2024-03-01T08:00:00Z"))
	reply, err := f.engine.Handle(ctx, "list orders for plant A123", "tok")
	require.NoError(t, err)
	assert.Equal(t, "There are no releasable orders for plant A123.", reply)
	assert.Equal(t, "", f.engine.LastSnapshot().Text)
	assert.True(t, f.engine.LastSnapshot().Empty())

	reply, err = f.engine.Handle(ctx, "release order 1234567", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Order 1234567 not found.", reply)
	assert.Empty(t, f.api.releases)
}

func TestEngine_FailedListingKeepsSnapshot(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.api.setOrders(order(t, "1234567", "PLANNED", "2024-03-01T08:00:00Z"))
	_, err := f.engine.Handle(ctx, "list orders for plant A123", "tok")
	require.NoError(t, err)

	f.api.listErr = &dmc.RemoteCallError{Endpoint: "list", StatusCode: 502}
	_, err = f.engine.Handle(ctx, "list orders for plant A123", "tok")
	assert.ErrorIs(t, err, dmc.ErrRemoteCall)
	assert.False(t, f.engine.LastSnapshot().Empty())
}

func TestEngine_MissingEntitiesAndUnknown(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"show me orders", replyMissingPlant},
		{"release order please", replyMissingOrder},
		{"good morning", replyUnknown},
	}
	for _, tt := range tests {
		reply, err := f.engine.Handle(ctx, tt.text, "tok")
		require.NoError(t, err)
		assert.Equal(t, tt.want, reply, tt.text)
	}
	assert.Empty(t, f.api.listCalls)
	assert.Empty(t, f.api.releases)
}

func TestEngine_RespondRecordsTranscript(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.api.setOrders(order(t, "1234567", "PLANNED", "2024-03-01T08:00:00Z"))

	reply, err := f.engine.Respond(context.Background(), Inbound{Channel: "console", Sender: "operator", Text: "  show me orders for plant A123 "})
	require.NoError(t, err)
	assert.Contains(t, reply, "Order: 1234567,")

	require.Len(t, f.store.messages, 2)
	in, out := f.store.messages[0], f.store.messages[1]
	assert.Equal(t, "incoming", in.Direction)
	assert.Equal(t, "show me orders for plant A123", in.Content)
	assert.Equal(t, string(IntentListOrders), in.Intent)
	assert.Equal(t, "outgoing", out.Direction)
	assert.Equal(t, reply, out.Content)
	assert.NotEmpty(t, in.RequestID)
	assert.Equal(t, in.RequestID, out.RequestID)
	assert.Equal(t, []string{"tok"}, f.api.tokens)
}

func TestEngine_RespondMapsFailures(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		f := newEngineFixture(t, fakeTokens{err: fmt.Errorf("%w: invalid_client", auth.ErrAuth)})
		reply, err := f.engine.Respond(context.Background(), Inbound{Channel: "http", Text: "show me orders for plant A123"})
		assert.ErrorIs(t, err, auth.ErrAuth)
		assert.Equal(t, "Sorry, I could not sign in to the order service. Please try again later.", reply)
		assert.Empty(t, f.api.listCalls)
	})

	t.Run("remote", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.api.listErr = &dmc.RemoteCallError{Endpoint: "list", StatusCode: 503}
		reply, err := f.engine.Respond(context.Background(), Inbound{Channel: "http", Text: "show me orders for plant A123"})
		assert.ErrorIs(t, err, dmc.ErrRemoteCall)
		assert.Equal(t, "Sorry, the order service failed: list returned status 503.", reply)
	})

	t.Run("unreachable", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.api.listErr = &dmc.RemoteCallError{Endpoint: "list", Err: errBoom}
		reply, _ := f.engine.Respond(context.Background(), Inbound{Channel: "http", Text: "show me orders for plant A123"})
		assert.Equal(t, "Sorry, the order service failed: list could not be reached.", reply)
	})

	t.Run("parse", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		o := order(t, "1234567", "PLANNED", "2024-03-01T08:00:00Z")
		o.BuildQuantity = -1
		f.api.setOrders(o)
		_, err := f.engine.Respond(context.Background(), Inbound{Channel: "http", Text: "list orders for plant A123"})
		require.NoError(t, err)

		reply, err := f.engine.Respond(context.Background(), Inbound{Channel: "http", Text: "release order 1234567"})
		assert.ErrorIs(t, err, ErrParse)
		assert.Equal(t, "Sorry, the order data is incomplete, so the order cannot be released.", reply)
	})
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "abc", RequestIDFromContext(WithRequestID(context.Background(), "abc")))
}

type invalidatingTokens struct {
	fakeTokens
	invalidated int
}

func (i *invalidatingTokens) Invalidate(context.Context) { i.invalidated++ }

func TestEngine_RespondDropsRejectedToken(t *testing.T) {
	tokens := &invalidatingTokens{fakeTokens: fakeTokens{token: "stale"}}
	f := newEngineFixture(t, tokens)
	f.api.listErr = &dmc.RemoteCallError{Endpoint: "list", StatusCode: 401}

	_, err := f.engine.Respond(context.Background(), Inbound{Channel: "console", Text: "list orders for plant A123"})
	assert.ErrorIs(t, err, dmc.ErrRemoteCall)
	assert.Equal(t, 1, tokens.invalidated)

	f.api.listErr = &dmc.RemoteCallError{Endpoint: "list", StatusCode: 500}
	_, _ = f.engine.Respond(context.Background(), Inbound{Channel: "console", Text: "list orders for plant A123"})
	assert.Equal(t, 1, tokens.invalidated)
}
