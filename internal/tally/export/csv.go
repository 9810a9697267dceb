// Package export renders active door events as CSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/doortally/doortally/internal/tally/types"
)

// TimestampLayout is the fixed export rendering for timestamps: UTC,
// ISO-8601, always millisecond precision so column widths are stable.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Header is the fixed column order of the export.
var Header = []string{"id", "door_number", "event_type", "timestamp_utc"}

// Source streams active events newest-first. *service.Ledger satisfies it.
type Source interface {
	ExportActive(ctx context.Context, fn func(types.Event) error) error
}

// WriteCSV streams every active event from src to w, one CSV record per
// event. Rows are written as they arrive from the store; the full result
// set is never held in memory.
func WriteCSV(ctx context.Context, src Source, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	err := src.ExportActive(ctx, func(ev types.Event) error {
		return cw.Write(record(ev))
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func record(ev types.Event) []string {
	return []string{
		strconv.FormatInt(ev.ID, 10),
		strconv.Itoa(ev.DoorNumber),
		string(ev.EventType),
		ev.OccurredAt.UTC().Format(TimestampLayout),
	}
}
