package convo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"order-chatbot/internal/dmc"
)

const displayTimeLayout = "02/01/2006 15:04:05"

var closedReleaseStatuses = map[string]bool{
	dmc.ReleaseStatusReleased:  true,
	dmc.ReleaseStatusDone:      true,
	dmc.ReleaseStatusDiscarded: true,
	dmc.ReleaseStatusClosed:    true,
}

// OrderLister is the listing half of the order API.
type OrderLister interface {
	ListOrders(ctx context.Context, token, plant string) ([]dmc.Order, error)
}

// OrderService lists the releasable orders of a plant.
type OrderService struct {
	api      OrderLister
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewOrderService renders dates in loc (UTC when nil).
func NewOrderService(api OrderLister, loc *time.Location, logger *slog.Logger) *OrderService {
	if loc == nil {
		loc = time.UTC
	}
	return &OrderService{
		api:      api,
		location: loc,
		now:      time.Now,
		logger:   logger.With("component", "orders"),
	}
}

// List fetches the plant's orders, keeps the releasable ones sorted by planned
// start and renders one summary line each. API failures are returned as is.
func (s *OrderService) List(ctx context.Context, token, plant string) (*Snapshot, error) {
	orders, err := s.api.ListOrders(ctx, token, plant)
	if err != nil {
		return nil, err
	}

	releasable := filterReleasable(orders)
	sortByPlannedStart(releasable)
	text := formatOrderList(releasable, s.location)

	s.logger.Info("orders listed", "plant", plant, "received", len(orders), "releasable", len(releasable))
	return newSnapshot(plant, releasable, text, s.now()), nil
}

func filterReleasable(orders []dmc.Order) []dmc.Order {
	res := make([]dmc.Order, 0, len(orders))
	for _, o := range orders {
		if closedReleaseStatuses[strings.ToUpper(o.ReleaseStatus)] {
			continue
		}
		res = append(res, o)
	}
	return res
}

// sortByPlannedStart compares instants, so mixed source offsets order correctly.
// Orders without a planned start go last.
func sortByPlannedStart(orders []dmc.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i].PlannedStart, orders[j].PlannedStart
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.Before(b)
	})
}

func formatOrderList(orders []dmc.Order, loc *time.Location) string {
	var sb strings.Builder
	for _, o := range orders {
		sb.WriteString(formatOrderLine(o, loc))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatOrderLine(o dmc.Order, loc *time.Location) string {
	return fmt.Sprintf("Order: %s, Plant: %s, Status: %s, Material: %s, Build Quantity: %s %s, Planned Start Date: %s, Planned Completion Date: %s",
		o.Order, o.Plant, o.Status, o.Material,
		strconv.FormatFloat(o.BuildQuantity, 'f', -1, 64), o.UnitOfMeasure,
		formatDisplayTime(o.PlannedStart, loc),
		formatDisplayTime(o.PlannedCompletion, loc),
	)
}

// formatDisplayTime leaves a date the API did not send empty.
func formatDisplayTime(ts time.Time, loc *time.Location) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(loc).Format(displayTimeLayout)
}
