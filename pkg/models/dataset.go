package models

// DatasetKind tags the two dataset variants.
type DatasetKind string

const (
	KindObject DatasetKind = "object"
	KindReport DatasetKind = "report"
)

// RowCountUnavailable is reported when a report declares no row-count aggregate.
const RowCountUnavailable int64 = -1

// Dataset is a discovered catalog entry. It is implemented only by
// *ObjectDataset and *ReportDataset; use a type switch to handle it.
type Dataset interface {
	Kind() DatasetKind
	DisplayName() string
	Rows() int64
	Schema() []Column
	sealed()
}

// ObjectDataset is a queryable CRM object type (Account, Contact, ...).
type ObjectDataset struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Queryable   bool   `json:"queryable"`
	Retrievable bool   `json:"retrievable"`
	// PrimaryKeys are normalized names of fields with the platform's identifier type
	PrimaryKeys []string `json:"primary_keys"`
	// ForeignKeys maps a normalized child-relationship field to the child object name
	ForeignKeys map[string]string `json:"foreign_keys"`
	Columns     []Column          `json:"columns"`
	RowCount    int64             `json:"row_count"`
}

func (d *ObjectDataset) Kind() DatasetKind   { return KindObject }
func (d *ObjectDataset) DisplayName() string { return d.Name }
func (d *ObjectDataset) Rows() int64         { return d.RowCount }
func (d *ObjectDataset) Schema() []Column    { return d.Columns }
func (d *ObjectDataset) sealed()             {}

// ReportFormat is the layout of an analytics report.
type ReportFormat string

const (
	FormatTabular ReportFormat = "TABULAR"
	FormatSummary ReportFormat = "SUMMARY"
	FormatMatrix  ReportFormat = "MATRIX"
	FormatJoined  ReportFormat = "JOINED"
)

// Supported reports whether rows and schema can be read from this format.
func (f ReportFormat) Supported() bool {
	switch f {
	case FormatTabular, FormatSummary, FormatMatrix:
		return true
	default:
		return false
	}
}

// ReportDataset is a saved analytics report.
type ReportDataset struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Format   ReportFormat `json:"format"`
	RowCount int64        `json:"row_count"`
	Columns  []Column     `json:"columns"`
}

func (d *ReportDataset) Kind() DatasetKind   { return KindReport }
func (d *ReportDataset) DisplayName() string { return d.Name }
func (d *ReportDataset) Rows() int64         { return d.RowCount }
func (d *ReportDataset) Schema() []Column    { return d.Columns }
func (d *ReportDataset) sealed()             {}
