// Package sink implements the QuoteSink collaborator interface (§6)
// and the two concrete writers named in §1's out-of-scope list: CSV
// and JSONL file output.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/kkhwan1/bloomberg-data/quote"
)

// Sink receives successful quotes from the Scheduler.
type Sink interface {
	Write(q quote.Quote) error
}

// JSONLSink appends one JSON object per line.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLSink opens (creating if needed) a JSONL file for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open jsonl: %w", err)
	}
	return &JSONLSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) Write(q quote.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(q)
}

func (s *JSONLSink) Close() error {
	return s.file.Close()
}

var csvHeader = []string{
	"symbol", "asset_class", "price", "change", "change_percent", "volume",
	"day_high", "day_low", "year_high", "year_low", "open", "previous_close",
	"currency", "source", "collected_at",
}

// CSVSink appends one row per quote, writing the header once if the
// file is new.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink opens (creating if needed) a CSV file for appending,
// writing the header row only when the file was just created.
func NewCSVSink(path string) (*CSVSink, error) {
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open csv: %w", err)
	}
	w := csv.NewWriter(f)

	s := &CSVSink{file: f, writer: w}
	if isNew {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("sink: write csv header: %w", err)
		}
		w.Flush()
	}
	return s, nil
}

func (s *CSVSink) Write(q quote.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		q.Symbol,
		string(q.AssetClass),
		strconv.FormatFloat(q.Price, 'f', -1, 64),
		optFloat(q.Change),
		optFloat(q.ChangePercent),
		optInt(q.Volume),
		optFloat(q.DayHigh),
		optFloat(q.DayLow),
		optFloat(q.YearHigh),
		optFloat(q.YearLow),
		optFloat(q.Open),
		optFloat(q.PreviousClose),
		optString(q.Currency),
		string(q.Source),
		q.CollectedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if err := s.writer.Write(row); err != nil {
		return err
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVSink) Close() error {
	s.writer.Flush()
	return s.file.Close()
}

func optFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func optInt(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
