// Package normalizer converts raw CRM rows into storage-safe records.
//
// Field names have every "." replaced by "!" and values are coerced to the
// Go type implied by the field's declared CRM type:
//
//	string, textarea          -> string
//	int                       -> int64
//	double, percent, currency -> float64
//	boolean                   -> bool
//	date, datetime            -> time.Time
//
// Normalization is total. A value that cannot be coerced becomes nil and a
// warning is logged; the rest of the record is unaffected.
package normalizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/crmsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/crmsync/pkg/json"
	"github.com/ajitpratap0/crmsync/pkg/metrics"
	"github.com/ajitpratap0/crmsync/pkg/models"
)

// dateLayouts are tried in order; a value that matches none is retried with a midnight suffix.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05",
}

const midnightSuffix = "T00:00:00"

// NormalizeFieldName makes a CRM field name safe as a storage column name.
func NormalizeFieldName(name string) string {
	return strings.ReplaceAll(name, ".", "!")
}

// Normalizer coerces raw rows. It is safe for concurrent use.
type Normalizer struct {
	logger *zap.Logger
}

// New creates a Normalizer. A nil logger discards warnings.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger.With(zap.String("component", "normalizer"))}
}

// Normalize converts one raw row. types maps raw field name to declared CRM type;
// fields absent from types pass through unchanged.
func (n *Normalizer) Normalize(raw map[string]interface{}, types map[string]string) models.Record {
	out := make(models.Record, len(raw))
	for field, v := range raw {
		out[NormalizeFieldName(field)] = n.Value(field, v, types[field])
	}
	return out
}

// NormalizeAll converts a batch of rows.
func (n *Normalizer) NormalizeAll(raws []map[string]interface{}, types map[string]string) []models.Record {
	out := make([]models.Record, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw, types))
	}
	return out
}

// Value coerces a single value of the given declared type.
func (n *Normalizer) Value(field string, v interface{}, dataType string) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if _, isNil := m["nil"]; isNil {
			return nil
		}
		label, hasLabel := m["label"]
		value, hasValue := m["value"]
		if !hasLabel || !hasValue {
			return m
		}
		if dataType == "string" {
			v = label
		} else {
			v = value
		}
		// structured cells such as {"amount": 1000, "currency": "USD"} are kept as is
		if inner, ok := v.(map[string]interface{}); ok {
			return inner
		}
	}

	if v == nil {
		return nil
	}

	out, err := coerce(v, dataType)
	if err != nil {
		err = errors.Wrap(err, errors.ErrorTypeNormalization, "failed to coerce value").
			WithDetail("field", field).
			WithDetail("type", dataType)
		n.logger.Warn("failed to coerce value, using null",
			zap.String("field", field),
			zap.String("type", dataType),
			zap.Any("value", v),
			zap.Error(err))
		metrics.NormalizationFailures.WithLabelValues(dataType).Inc()
		return nil
	}
	return out
}

func coerce(v interface{}, dataType string) (interface{}, error) {
	switch dataType {
	case "string", "textarea":
		return toText(v), nil
	case "int":
		return toInt(v)
	case "double", "percent", "currency":
		return toFloat(v)
	case "boolean":
		return toBool(v)
	case "date", "datetime":
		return toTime(v)
	default:
		return v, nil
	}
}

func toText(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return t
	case jsonpool.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case bool, int, int64, float64:
		return fmt.Sprint(t)
	default:
		return v
	}
}

func toInt(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, nil
		}
		return strconv.ParseInt(t, 10, 64)
	case jsonpool.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return wholeFloat(f)
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return wholeFloat(t)
	default:
		return nil, errors.Newf(errors.ErrorTypeNormalization, "cannot convert %T to int", v)
	}
}

func wholeFloat(f float64) (interface{}, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, errors.Newf(errors.ErrorTypeNormalization, "%v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, nil
		}
		return strconv.ParseFloat(t, 64)
	case jsonpool.Number:
		return t.Float64()
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeNormalization, "cannot convert %T to float", v)
	}
}

func toBool(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch {
		case t == "":
			return nil, nil
		case strings.EqualFold(t, "true"):
			return true, nil
		case strings.EqualFold(t, "false"):
			return false, nil
		}
		return nil, errors.Newf(errors.ErrorTypeNormalization, "invalid boolean %q", t)
	default:
		return nil, errors.Newf(errors.ErrorTypeNormalization, "cannot convert %T to bool", v)
	}
}

func toTime(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if t == "" {
			return nil, nil
		}
		if ts, ok := ParseTime(t); ok {
			return ts, nil
		}
		return nil, errors.Newf(errors.ErrorTypeNormalization, "unrecognized date %q", t)
	default:
		return nil, errors.Newf(errors.ErrorTypeNormalization, "cannot convert %T to time", v)
	}
}

// ParseTime parses the date and date-time forms the CRM emits.
// Date-only values are read as midnight UTC.
func ParseTime(s string) (time.Time, bool) {
	for _, candidate := range []string{s, s + midnightSuffix} {
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, candidate); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
