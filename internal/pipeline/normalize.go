package pipeline

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an inbound timestamp.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalize returns a copy of tx with defaults applied.
func normalize(tx *domain.Transaction, now time.Time) domain.Transaction {
	t := *tx

	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.UserID = strings.TrimSpace(t.UserID)
	t.Channel = strings.TrimSpace(t.Channel)
	t.MerchantCategory = strings.TrimSpace(t.MerchantCategory)

	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" {
		t.Currency = domain.DefaultCurrency
	}
	t.Direction = domain.NormalizeDirection(string(t.Direction))

	if t.Timestamp.IsZero() {
		if parsed, ok := ParseTimestamp(t.RawTimestamp); ok {
			t.Timestamp = parsed
		} else {
			if t.RawTimestamp != "" {
				slog.Warn("unparseable transaction timestamp, using processing time",
					"txn_id", t.ID,
					"timestamp", t.RawTimestamp,
				)
			}
			t.Timestamp = now
		}
	}
	t.Timestamp = t.Timestamp.UTC()
	t.RawTimestamp = ""
	t.CreatedAt = now

	if t.Location != nil {
		loc := *t.Location
		t.Location = &loc
	}
	if t.Device != nil {
		dev := *t.Device
		t.Device = &dev
	}
	return t
}
