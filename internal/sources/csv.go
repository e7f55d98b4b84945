package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

// CSVAdapter imports a local CSV export. The header row names the columns;
// only "text" is required, and id, rating, author, date, url and sentiment
// are used when present.
type CSVAdapter struct {
	log *logger.Logger
	now func() time.Time
}

// NewCSVAdapter creates an adapter for local CSV exports.
func NewCSVAdapter(log *logger.Logger) *CSVAdapter {
	return &CSVAdapter{log: logger.OrNop(log), now: time.Now}
}

// FetchSince reads the whole file and keeps rows dated at or after since.
// Malformed rows are reported and skipped.
func (a *CSVAdapter) FetchSince(ctx context.Context, cfg feedback.SourceConfig, since time.Time) Result {
	var res Result
	c, ok := cfg.(feedback.CSVConfig)
	if !ok {
		res.addError("csv: unexpected config %T", cfg)
		return res
	}
	f, err := os.Open(c.Path)
	if err != nil {
		res.addError("csv: %v", err)
		return res
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		res.addError("csv %s: reading header: %v", c.Path, err)
		return res
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols["text"]; !ok {
		res.addError("csv %s: missing required column \"text\"", c.Path)
		return res
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	now := a.now().UTC()
	line := 1
	for {
		if ctx.Err() != nil {
			res.addError("csv %s: %v", c.Path, ctx.Err())
			break
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			res.addError("csv %s line %d: %v", c.Path, line, err)
			continue
		}

		text := field(rec, "text")
		id := field(rec, "id")
		if id == "" {
			id = ContentID(feedback.PlatformCSV, text, field(rec, "author"), field(rec, "date"))
		}
		it := feedback.Item{
			Platform:   feedback.PlatformCSV,
			ExternalID: id,
			Text:       text,
			Author:     strPtr(field(rec, "author")),
			URL:        strPtr(field(rec, "url")),
			CreatedAt:  dateOr(field(rec, "date"), now, now),
		}
		if v := field(rec, "rating"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				it.Rating = feedback.NormalizeRating(f)
			}
		}
		if s, ok := feedback.ParseSentiment(field(rec, "sentiment")); ok {
			it.Sentiment = &s
		}
		res.Items = append(res.Items, it)
	}

	res.Items = filterSince(dedupe(res.Items), since)
	return res
}
