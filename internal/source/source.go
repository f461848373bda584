// Package source reads SMS dump files for historical backfill.
//
// A dump is a CSV file with one message per row: sender, epoch milliseconds,
// text. Android inbox export tools and the companion app's debug export both
// produce this shape.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pesakit/smsledger/internal/ingest"
)

const fieldsPerRow = 3

// ReadFile loads an SMS dump from path. Messages come back ordered oldest
// first so the backfill watermark advances monotonically.
func ReadFile(path string) ([]ingest.SMS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SMS dump %s: %w", path, err)
	}
	defer f.Close()

	messages, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read SMS dump %s: %w", path, err)
	}
	return messages, nil
}

// Read parses a dump from r.
func Read(r io.Reader) ([]ingest.SMS, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	var messages []ingest.SMS
	line := 0
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		line++

		sms, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		messages = append(messages, sms)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})
	return messages, nil
}

func parseRecord(record []string) (ingest.SMS, error) {
	if len(record) != fieldsPerRow {
		return ingest.SMS{}, fmt.Errorf("expected %d fields (sender, epoch_millis, text), got %d", fieldsPerRow, len(record))
	}

	sender := strings.TrimSpace(record[0])
	if sender == "" {
		return ingest.SMS{}, fmt.Errorf("sender is empty")
	}

	millis, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
	if err != nil {
		return ingest.SMS{}, fmt.Errorf("invalid epoch milliseconds %q: %w", record[1], err)
	}
	if millis < 0 {
		return ingest.SMS{}, fmt.Errorf("epoch milliseconds must be non-negative, got %d", millis)
	}

	return ingest.SMS{
		Sender:     sender,
		Text:       record[2],
		ReceivedAt: time.UnixMilli(millis).UTC(),
	}, nil
}
