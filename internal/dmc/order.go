package dmc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Release statuses reported by the order API. Orders in any other state can
// still be released.
const (
	ReleaseStatusReleased  = "RELEASED"
	ReleaseStatusDone      = "DONE"
	ReleaseStatusDiscarded = "DISCARDED"
	ReleaseStatusClosed    = "CLOSED"
)

// Order is a manufacturing order as returned by the listing endpoint.
type Order struct {
	Order             string    `json:"order"`
	Plant             string    `json:"plant"`
	Status            string    `json:"status"`
	ReleaseStatus     string    `json:"releaseStatus"`
	Material          string    `json:"material"`
	BuildQuantity     float64   `json:"buildQuantity"`
	UnitOfMeasure     string    `json:"erpUnitOfMeasure"`
	PlannedStart      time.Time `json:"plannedStartDate"`
	PlannedCompletion time.Time `json:"plannedCompletionDate"`
}

// UnmarshalJSON accepts the nested material object, numbers sent as strings
// and timestamps with either a Z suffix or an explicit offset.
func (o *Order) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.Order = readStringRaw(raw, "order", "orderId")
	o.Plant = readStringRaw(raw, "plant")
	o.Status = readStringRaw(raw, "status")
	o.ReleaseStatus = strings.ToUpper(readStringRaw(raw, "releaseStatus"))
	o.UnitOfMeasure = readStringRaw(raw, "erpUnitOfMeasure", "unitOfMeasure")
	o.BuildQuantity = readFloatRaw(raw, "buildQuantity")
	o.Material = readMaterial(raw["material"])

	var err error
	if o.PlannedStart, err = readTimeRaw(raw, "plannedStartDate"); err != nil {
		return fmt.Errorf("order %s: %w", o.Order, err)
	}
	if o.PlannedCompletion, err = readTimeRaw(raw, "plannedCompletionDate"); err != nil {
		return fmt.Errorf("order %s: %w", o.Order, err)
	}
	return nil
}

// parseOrderList accepts the paged {"content": [...]} envelope or a bare array.
func parseOrderList(body []byte) ([]Order, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var direct []Order
		if err := json.Unmarshal(body, &direct); err != nil {
			return nil, err
		}
		return direct, nil
	}

	var env struct {
		Content []Order `json:"content"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return env.Content, nil
}

func readMaterial(val json.RawMessage) string {
	if len(val) == 0 {
		return ""
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(val, &nested); err == nil {
		return readStringRaw(nested, "material", "id")
	}
	return strings.TrimSpace(stringTrimQuotes(val))
}

func readStringRaw(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		var decoded string
		if err := json.Unmarshal(val, &decoded); err == nil {
			if decoded = strings.TrimSpace(decoded); decoded != "" {
				return decoded
			}
			continue
		}
		var number float64
		if err := json.Unmarshal(val, &number); err == nil {
			return strconv.FormatFloat(number, 'f', -1, 64)
		}
	}
	return ""
}

func readFloatRaw(raw map[string]json.RawMessage, keys ...string) float64 {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		var decoded float64
		if err := json.Unmarshal(val, &decoded); err == nil {
			return decoded
		}
		var str string
		if err := json.Unmarshal(val, &str); err == nil {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

// readTimeRaw yields the zero time when key is absent; renderers treat it as unknown.
func readTimeRaw(raw map[string]json.RawMessage, key string) (time.Time, error) {
	str := readStringRaw(raw, key)
	if str == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, str, err)
	}
	return ts, nil
}

func stringTrimQuotes(raw json.RawMessage) string {
	str := strings.TrimSpace(string(raw))
	return strings.Trim(str, `"`)
}
