package market

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/refi-monitor/internal/model"
)

// Format is a rate sheet encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatCSV, FormatXLSX:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", eris.Errorf("market: unknown format %q", s)
	}
}

// Parse decodes a rate sheet. The result is not normalized.
func Parse(ctx context.Context, r io.Reader, format Format) (*model.Snapshot, error) {
	switch format {
	case FormatJSON:
		return parseJSON(r)
	case FormatYAML:
		return parseYAML(r)
	case FormatCSV:
		return parseCSV(ctx, r)
	case FormatXLSX:
		return parseXLSX(ctx, r)
	default:
		return nil, eris.Errorf("market: unknown format %q", format)
	}
}

// rateText accepts rates written as numbers, strings, or strings with a
// trailing percent sign.
type rateText struct {
	decimal.Decimal
}

func parseRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return decimal.Decimal{}, eris.New("market: empty rate")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, eris.Wrapf(err, "market: parse rate %q", s)
	}
	return d, nil
}

func (r *rateText) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	d, err := parseRate(s)
	if err != nil {
		return err
	}
	r.Decimal = d
	return nil
}

func (r *rateText) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return eris.Errorf("market: rate must be a scalar (line %d)", n.Line)
	}
	d, err := parseRate(n.Value)
	if err != nil {
		return err
	}
	r.Decimal = d
	return nil
}

type quoteDoc struct {
	TermMonths int      `json:"term_months" yaml:"term_months"`
	TermYears  int      `json:"term_years" yaml:"term_years"`
	Rate       rateText `json:"annual_rate_percent" yaml:"annual_rate_percent"`
	CreditTier string   `json:"credit_tier" yaml:"credit_tier"`
}

func (q quoteDoc) quote() model.RateQuote {
	term := q.TermMonths
	if term == 0 && q.TermYears > 0 {
		term = q.TermYears * 12
	}
	return model.RateQuote{TermMonths: term, AnnualRatePercent: q.Rate.Decimal, CreditTier: q.CreditTier}
}

type snapshotDoc struct {
	Source    string     `json:"source" yaml:"source"`
	FetchedAt time.Time  `json:"fetched_at" yaml:"fetched_at"`
	Quotes    []quoteDoc `json:"quotes" yaml:"quotes"`
}

func (d snapshotDoc) snapshot() *model.Snapshot {
	snap := &model.Snapshot{Source: d.Source, FetchedAt: d.FetchedAt.UTC()}
	for _, q := range d.Quotes {
		snap.Quotes = append(snap.Quotes, q.quote())
	}
	return snap
}

// parseJSON accepts either a snapshot object or a bare array of quotes.
func parseJSON(r io.Reader) (*model.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "market: read json")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var quotes []quoteDoc
		if err := json.Unmarshal(trimmed, &quotes); err != nil {
			return nil, eris.Wrap(err, "market: decode json quotes")
		}
		return snapshotDoc{Quotes: quotes}.snapshot(), nil
	}
	var doc snapshotDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, eris.Wrap(err, "market: decode json snapshot")
	}
	return doc.snapshot(), nil
}

func parseYAML(r io.Reader) (*model.Snapshot, error) {
	var doc snapshotDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "market: decode yaml snapshot")
	}
	return doc.snapshot(), nil
}

// columns maps a header row onto quote fields.
type columns struct {
	termMonths int
	termYears  int
	rate       int
	tier       int
}

func headerColumns(header []string) (columns, error) {
	c := columns{termMonths: -1, termYears: -1, rate: -1, tier: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "term_months", "term", "months":
			c.termMonths = i
		case "term_years", "years":
			c.termYears = i
		case "annual_rate_percent", "rate", "rate_percent":
			c.rate = i
		case "credit_tier", "tier":
			c.tier = i
		}
	}
	if c.termMonths < 0 && c.termYears < 0 {
		return c, eris.New("market: header has no term column")
	}
	if c.rate < 0 {
		return c, eris.New("market: header has no rate column")
	}
	return c, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// quote decodes one data row; line is 1-based for error messages.
func (c columns) quote(row []string, line int) (model.RateQuote, error) {
	var q model.RateQuote
	if s := cell(row, c.termMonths); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, eris.Wrapf(err, "market: row %d: term months %q", line, s)
		}
		q.TermMonths = n
	} else if s := cell(row, c.termYears); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, eris.Wrapf(err, "market: row %d: term years %q", line, s)
		}
		q.TermMonths = n * 12
	} else {
		return q, eris.Errorf("market: row %d: missing term", line)
	}

	r, err := parseRate(cell(row, c.rate))
	if err != nil {
		return q, eris.Wrapf(err, "market: row %d", line)
	}
	q.AnnualRatePercent = r
	q.CreditTier = cell(row, c.tier)
	return q, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
