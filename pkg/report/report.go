// Package report reads analytics report payloads: the format, row count and
// column schema used for discovery, and the detail rows used for extraction.
package report

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/crmsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/crmsync/pkg/json"
	"github.com/ajitpratap0/crmsync/pkg/models"
	"github.com/ajitpratap0/crmsync/pkg/normalizer"
)

// GrandTotalKey is the fact map entry holding report-wide aggregates.
const GrandTotalKey = "T!T"

const rowCountAggregate = "RowCount"

// Document is a decoded report run.
type Document struct {
	Attributes       map[string]interface{} `json:"attributes"`
	Metadata         Metadata               `json:"reportMetadata"`
	ExtendedMetadata *ExtendedMetadata      `json:"reportExtendedMetadata"`
	FactMap          map[string]Fact        `json:"factMap"`
}

// Metadata is the report definition.
type Metadata struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ReportFormat  string   `json:"reportFormat"`
	DetailColumns []string `json:"detailColumns"`
	Aggregates    []string `json:"aggregates"`
}

// ColumnInfo describes one detail column.
type ColumnInfo struct {
	Label    string `json:"label"`
	DataType string `json:"dataType"`
}

// ExtendedMetadata carries per-column type information.
type ExtendedMetadata struct {
	DetailColumnInfo map[string]ColumnInfo `json:"detailColumnInfo"`
}

// Fact is one grouping of a report's results.
type Fact struct {
	Aggregates []Aggregate `json:"aggregates"`
	Rows       []Row       `json:"rows"`
}

// Aggregate is a summary value.
type Aggregate struct {
	Label string      `json:"label"`
	Value interface{} `json:"value"`
}

// Row is one detail row.
type Row struct {
	DataCells []map[string]interface{} `json:"dataCells"`
}

// Ready reports whether the run has produced results.
func (d *Document) Ready() bool {
	return d.FactMap != nil && d.ExtendedMetadata != nil
}

// Format returns the declared report format.
func (d *Document) Format() models.ReportFormat {
	return models.ReportFormat(d.Metadata.ReportFormat)
}

// Parse decodes a report payload.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := jsonpool.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed report payload")
	}
	return &doc, nil
}

// Description is the discovery view of a report.
type Description struct {
	Format   models.ReportFormat
	RowCount int64
	Columns  []models.Column
}

// Parser derives schema and rows from report documents.
type Parser struct {
	logger     *zap.Logger
	normalizer *normalizer.Normalizer
}

// NewParser creates a Parser.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		logger:     logger.With(zap.String("component", "report_parser")),
		normalizer: normalizer.New(logger),
	}
}

func unsupportedFormat(doc *Document) error {
	return errors.New(errors.ErrorTypeUnsupportedFormat, "report format is not supported").
		WithDetail("format", doc.Metadata.ReportFormat).
		WithDetail("report", doc.Metadata.Name)
}

// Describe returns the format, row count and columns of a report.
func (p *Parser) Describe(doc *Document) (*Description, error) {
	if !doc.Format().Supported() {
		return nil, unsupportedFormat(doc)
	}
	return &Description{
		Format:   doc.Format(),
		RowCount: p.rowCount(doc),
		Columns:  Columns(doc),
	}, nil
}

func (p *Parser) rowCount(doc *Document) int64 {
	declared := false
	for _, a := range doc.Metadata.Aggregates {
		if a == rowCountAggregate {
			declared = true
			break
		}
	}
	if !declared {
		p.logger.Warn("report declares no row count aggregate",
			zap.String("report", doc.Metadata.Name))
		return models.RowCountUnavailable
	}

	total, ok := doc.FactMap[GrandTotalKey]
	if !ok || len(total.Aggregates) == 0 {
		p.logger.Warn("report has no grand total aggregates",
			zap.String("report", doc.Metadata.Name))
		return models.RowCountUnavailable
	}

	n, ok := toInt64(total.Aggregates[len(total.Aggregates)-1].Value)
	if !ok {
		p.logger.Warn("report row count is not numeric",
			zap.String("report", doc.Metadata.Name),
			zap.Any("value", total.Aggregates[len(total.Aggregates)-1].Value))
		return models.RowCountUnavailable
	}
	return n
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case jsonpool.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case int64:
		return t, true
	}
	return 0, false
}

// Columns lists detail columns in report order followed by any others in name order.
func Columns(doc *Document) []models.Column {
	if doc.ExtendedMetadata == nil {
		return nil
	}
	info := doc.ExtendedMetadata.DetailColumnInfo

	names := make([]string, 0, len(info))
	seen := make(map[string]bool, len(info))
	for _, c := range doc.Metadata.DetailColumns {
		if _, ok := info[c]; ok && !seen[c] {
			names = append(names, c)
			seen[c] = true
		}
	}
	var rest []string
	for c := range info {
		if !seen[c] {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	cols := make([]models.Column, 0, len(names))
	for _, c := range names {
		cols = append(cols, models.Column{
			FieldName: normalizer.NormalizeFieldName(c),
			Alias:     info[c].Label,
			Type:      models.Classify(info[c].DataType),
		})
	}
	return cols
}

// TypeMap maps detail column name to declared data type.
func TypeMap(doc *Document) map[string]string {
	types := make(map[string]string)
	if doc.ExtendedMetadata == nil {
		return types
	}
	for name, ci := range doc.ExtendedMetadata.DetailColumnInfo {
		types[name] = ci.DataType
	}
	return types
}

// ExtractRows returns the report's detail rows as normalized records.
// Fact map entries are visited in key order; cells beyond the declared columns are ignored.
func (p *Parser) ExtractRows(doc *Document) ([]models.Record, error) {
	if !doc.Format().Supported() {
		return nil, unsupportedFormat(doc)
	}

	types := TypeMap(doc)
	cols := doc.Metadata.DetailColumns

	keys := make([]string, 0, len(doc.FactMap))
	for k := range doc.FactMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []models.Record
	for _, k := range keys {
		for _, row := range doc.FactMap[k].Rows {
			raw := make(map[string]interface{}, len(cols))
			for i := 0; i < len(cols) && i < len(row.DataCells); i++ {
				raw[cols[i]] = row.DataCells[i]
			}
			out = append(out, p.normalizer.Normalize(raw, types))
		}
	}
	return out, nil
}

// WaitForInstance fetches a report run until it is ready or attempts run out.
// The last fetched document is returned either way; only fetch and decode errors fail.
func WaitForInstance(ctx context.Context, fetch func(context.Context) ([]byte, error), attempts int, delay time.Duration) (*Document, error) {
	if attempts <= 0 {
		attempts = 1
	}

	var doc *Document
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "report instance wait cancelled")
			case <-timer.C:
			}
		}

		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		doc, err = Parse(raw)
		if err != nil {
			return nil, err
		}
		if doc.Ready() {
			return doc, nil
		}
	}
	return doc, nil
}
