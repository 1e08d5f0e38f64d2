package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"order-chatbot/internal/dmc"
	"order-chatbot/internal/repo"
)

// ErrParse is returned when a listed order lacks a usable release quantity.
var ErrParse = errors.New("order record is malformed")

// OrderReleaser is the release half of the order API.
type OrderReleaser interface {
	ReleaseOrder(ctx context.Context, token string, req dmc.ReleaseRequest) error
}

// ReleaseRecorder stores release attempts.
type ReleaseRecorder interface {
	InsertRelease(ctx context.Context, rel repo.ReleaseRecord) error
}

// ReleaseService releases orders seen in the last listing.
type ReleaseService struct {
	api      OrderReleaser
	recorder ReleaseRecorder
	logger   *slog.Logger
}

// NewReleaseService creates a release service. recorder may be nil.
func NewReleaseService(api OrderReleaser, recorder ReleaseRecorder, logger *slog.Logger) *ReleaseService {
	return &ReleaseService{
		api:      api,
		recorder: recorder,
		logger:   logger.With("component", "release"),
	}
}

// Release looks orderID up in snap and releases its full build quantity.
// An order missing from snap is a normal reply and no API call is made.
// The snapshot is left untouched, so repeating a release calls the API again.
func (s *ReleaseService) Release(ctx context.Context, token string, snap *Snapshot, orderID string) (string, error) {
	if snap.Empty() {
		return notFoundReply(orderID), nil
	}
	order, ok := snap.Lookup(orderID)
	if !ok {
		return notFoundReply(orderID), nil
	}
	if order.Plant == "" {
		return fmt.Sprintf("Unable to find plant for order %s.", orderID), nil
	}
	qty := order.BuildQuantity
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return "", fmt.Errorf("%w: order %s has build quantity %v", ErrParse, orderID, qty)
	}

	err := s.api.ReleaseOrder(ctx, token, dmc.ReleaseRequest{
		Order:             orderID,
		Plant:             order.Plant,
		QuantityToRelease: qty,
	})
	s.record(ctx, order, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Order %s has been released successfully.", orderID), nil
}

func (s *ReleaseService) record(ctx context.Context, order dmc.Order, callErr error) {
	if s.recorder == nil {
		return
	}
	rel := repo.ReleaseRecord{
		RequestID: RequestIDFromContext(ctx),
		OrderID:   order.Order,
		Plant:     order.Plant,
		Quantity:  order.BuildQuantity,
		Outcome:   repo.OutcomeReleased,
	}
	if callErr != nil {
		rel.Outcome = repo.OutcomeFailed
		rel.Error = callErr.Error()
	}
	if err := s.recorder.InsertRelease(ctx, rel); err != nil {
		s.logger.Warn("failed recording release", "order", order.Order, "error", err)
	}
}

func notFoundReply(orderID string) string {
	return fmt.Sprintf("Order %s not found.", orderID)
}
