package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"order-chatbot/internal/auth"
	"order-chatbot/internal/dmc"
	"order-chatbot/internal/metrics"
	"order-chatbot/internal/nlu"
	"order-chatbot/internal/repo"

	"github.com/google/uuid"
)

const (
	replyMissingPlant = "Please provide a plant code."
	replyMissingOrder = "Please provide an order ID."
	replyUnknown      = "I'm sorry, I didn't understand your request. Can you please rephrase it?"
)

// SentimentScorer rates the polarity of a message in [-1, 1].
type SentimentScorer interface {
	Score(ctx context.Context, text string) float64
}

// TokenSource yields the bearer token for the order API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type tokenInvalidator interface {
	Invalidate(ctx context.Context)
}

// Store keeps the transcript and the release audit trail.
type Store interface {
	ReleaseRecorder
	InsertMessage(ctx context.Context, msg repo.MessageRecord) error
}

// Inbound is one operator message delivered by a channel.
type Inbound struct {
	Channel string
	Sender  string
	Text    string
}

// Deps wires the engine. Recognizer, Sentiment, Store and Metrics are optional.
type Deps struct {
	Recognizer Recognizer
	Sentiment  SentimentScorer
	Orders     OrderLister
	Releaser   OrderReleaser
	Tokens     TokenSource
	Store      Store
	Location   *time.Location
	Rules      []IntentRule
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Engine routes operator messages to the order services and owns the last
// listing snapshot shared by them.
type Engine struct {
	extractor  *Extractor
	classifier *Classifier
	sentiment  SentimentScorer
	orders     *OrderService
	releases   *ReleaseService
	listing    *LastListing
	tokens     TokenSource
	store      Store
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu sync.Mutex
}

// New creates a dialogue engine.
func New(d Deps) *Engine {
	sentiment := d.Sentiment
	if sentiment == nil {
		sentiment = nlu.NewLexicon()
	}
	var recorder ReleaseRecorder
	if d.Store != nil {
		recorder = d.Store
	}
	return &Engine{
		extractor:  NewExtractor(d.Recognizer),
		classifier: NewClassifier(d.Rules),
		sentiment:  sentiment,
		orders:     NewOrderService(d.Orders, d.Location, d.Logger),
		releases:   NewReleaseService(d.Releaser, recorder, d.Logger),
		listing:    &LastListing{},
		tokens:     d.Tokens,
		store:      d.Store,
		metrics:    d.Metrics,
		logger:     d.Logger.With("component", "convo"),
	}
}

// LastSnapshot returns the snapshot of the most recent listing, or nil.
func (e *Engine) LastSnapshot() *Snapshot {
	return e.listing.Current()
}

// Handle answers one message using token for the order API. Missing entities
// and unknown orders are ordinary replies; API failures are returned.
func (e *Engine) Handle(ctx context.Context, message, token string) (string, error) {
	reply, _, err := e.handle(ctx, message, token)
	return reply, err
}

func (e *Engine) handle(ctx context.Context, message, token string) (string, Intent, error) {
	ents := e.extractor.Extract(ctx, message)
	intent := e.classifier.Classify(message)
	sentiment := e.sentiment.Score(ctx, message)

	e.logger.Debug("message analysed",
		"request_id", RequestIDFromContext(ctx),
		"intent", intent,
		"entities", len(ents),
		"sentiment", sentiment,
	)
	if e.metrics != nil {
		e.metrics.Intents.WithLabelValues(string(intent)).Inc()
	}

	switch intent {
	case IntentListOrders:
		reply, err := e.handleListOrders(ctx, token, ents)
		return reply, intent, err
	case IntentReleaseOrder:
		reply, err := e.handleReleaseOrder(ctx, token, ents)
		return reply, intent, err
	default:
		return replyUnknown, intent, nil
	}
}

func (e *Engine) handleListOrders(ctx context.Context, token string, ents Entities) (string, error) {
	plant := ents[EntityPlant]
	if plant == "" {
		return replyMissingPlant, nil
	}
	snap, err := e.orders.List(ctx, token, plant)
	if err != nil {
		return "", fmt.Errorf("list orders: %w", err)
	}
	e.listing.Replace(snap)
	if snap.Text == "" {
		return fmt.Sprintf("There are no releasable orders for plant %s.", plant), nil
	}
	return snap.Text, nil
}

func (e *Engine) handleReleaseOrder(ctx context.Context, token string, ents Entities) (string, error) {
	orderID := ents[EntityOrder]
	if orderID == "" {
		return replyMissingOrder, nil
	}
	reply, err := e.releases.Release(ctx, token, e.listing.Current(), orderID)
	if err != nil {
		return "", fmt.Errorf("release order %s: %w", orderID, err)
	}
	return reply, nil
}

// Respond is the entry point for channels. It fetches a token, tags the
// request with an id, keeps the transcript and turns failures into operator
// text. The reply is always usable; the error is returned for logging.
// Calls are serialised so a release always sees the listing before it.
func (e *Engine) Respond(ctx context.Context, in Inbound) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestID := uuid.NewString()
	ctx = WithRequestID(ctx, requestID)
	text := strings.TrimSpace(in.Text)
	if e.metrics != nil {
		e.metrics.IncomingMessages.WithLabelValues(in.Channel).Inc()
	}

	var (
		reply  string
		intent = IntentNone
	)
	token, err := e.tokens.Token(ctx)
	if err == nil {
		reply, intent, err = e.handle(ctx, text, token)
	}
	if err != nil {
		e.logger.Error("message handling failed", "request_id", requestID, "channel", in.Channel, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo").Inc()
		}
		reply = failureReply(err)
		e.dropRejectedToken(ctx, err)
	}

	e.logMessage(ctx, in, requestID, "incoming", intent, text)
	e.logMessage(ctx, in, requestID, "outgoing", intent, reply)
	return reply, err
}

func (e *Engine) logMessage(ctx context.Context, in Inbound, requestID, direction string, intent Intent, content string) {
	if e.store == nil {
		return
	}
	if err := e.store.InsertMessage(ctx, repo.MessageRecord{
		RequestID: requestID,
		Channel:   in.Channel,
		Sender:    in.Sender,
		Direction: direction,
		Intent:    string(intent),
		Content:   content,
	}); err != nil {
		e.logger.Warn("failed logging message", "direction", direction, "error", err)
	}
}

// dropRejectedToken forgets the token when the order API answered 401, so the
// next message authenticates again.
func (e *Engine) dropRejectedToken(ctx context.Context, err error) {
	var remote *dmc.RemoteCallError
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusUnauthorized {
		return
	}
	if inv, ok := e.tokens.(tokenInvalidator); ok {
		inv.Invalidate(ctx)
	}
}

func failureReply(err error) string {
	var remote *dmc.RemoteCallError
	switch {
	case errors.Is(err, auth.ErrAuth):
		return "Sorry, I could not sign in to the order service. Please try again later."
	case errors.As(err, &remote):
		if remote.StatusCode > 0 {
			return fmt.Sprintf("Sorry, the order service failed: %s returned status %d.", remote.Endpoint, remote.StatusCode)
		}
		return fmt.Sprintf("Sorry, the order service failed: %s could not be reached.", remote.Endpoint)
	case errors.Is(err, ErrParse):
		return "Sorry, the order data is incomplete, so the order cannot be released."
	default:
		return "Sorry, something went wrong while processing your request."
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx with a request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id, or "" when untagged.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
