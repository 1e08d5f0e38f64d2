package convo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"order-chatbot/internal/dmc"
	"order-chatbot/internal/repo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRecognizer map[string]string

func (s stubRecognizer) Recognize(context.Context, string) map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type stubScorer struct {
	mu    sync.Mutex
	calls []string
	score float64
}

func (s *stubScorer) Score(_ context.Context, text string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	return s.score
}

type fakeOrderAPI struct {
	mu         sync.Mutex
	orders     []dmc.Order
	listErr    error
	releaseErr error
	listCalls  []string
	releases   []dmc.ReleaseRequest
	tokens     []string
}

func (f *fakeOrderAPI) ListOrders(_ context.Context, token, plant string) ([]dmc.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.listCalls = append(f.listCalls, plant)
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]dmc.Order, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeOrderAPI) ReleaseOrder(_ context.Context, token string, req dmc.ReleaseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.releases = append(f.releases, req)
	return f.releaseErr
}

func (f *fakeOrderAPI) setOrders(orders ...dmc.Order) {
	f.mu.Lock()
	f.orders = orders
	f.mu.Unlock()
}

type fakeTokens struct {
	token string
	err   error
}

func (f fakeTokens) Token(context.Context) (string, error) { return f.token, f.err }

type fakeStore struct {
	mu       sync.Mutex
	messages []repo.MessageRecord
	releases []repo.ReleaseRecord
}

func (f *fakeStore) InsertMessage(_ context.Context, msg repo.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) InsertRelease(_ context.Context, rel repo.ReleaseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, rel)
	return nil
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func order(t *testing.T, id, releaseStatus, start string) dmc.Order {
	t.Helper()
	st := mustTime(t, start)
	return dmc.Order{
		Order:             id,
		Plant:             "A123",
		Status:            "NEW",
		ReleaseStatus:     releaseStatus,
		Material:          "MAT-" + id,
		BuildQuantity:     10,
		UnitOfMeasure:     "ST",
		PlannedStart:      st,
		PlannedCompletion: st.Add(8 * time.Hour),
	}
}

var errBoom = errors.New("boom")
