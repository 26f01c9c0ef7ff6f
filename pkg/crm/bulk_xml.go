package crm

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/ajitpratap0/crmsync/pkg/errors"
)

// RecordReader streams records out of a bulk XML result set.
//
// Each <records> element becomes a map. Leaf elements map to their text,
// elements marked xsi:nil="true" map to nil and relationship elements with
// children map to nested maps. The sObject <type> marker is dropped.
type RecordReader struct {
	dec *xml.Decoder
}

// NewRecordReader wraps r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{dec: xml.NewDecoder(r)}
}

// Next returns the next record, or io.EOF once the stream is exhausted.
func (rr *RecordReader) Next() (map[string]interface{}, error) {
	for {
		tok, err := rr.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed bulk result")
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "records" {
			v, err := rr.decodeElement(se)
			if err != nil {
				return nil, err
			}
			if rec, ok := v.(map[string]interface{}); ok {
				return rec, nil
			}
			return map[string]interface{}{}, nil
		}
	}
}

func isNil(se xml.StartElement) bool {
	for _, a := range se.Attr {
		if a.Name.Local == "nil" && a.Value == "true" {
			return true
		}
	}
	return false
}

func (rr *RecordReader) decodeElement(start xml.StartElement) (interface{}, error) {
	if isNil(start) {
		if err := rr.dec.Skip(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed bulk result")
		}
		return nil, nil
	}

	var text strings.Builder
	var children map[string]interface{}
	for {
		tok, err := rr.dec.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed bulk result")
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			v, err := rr.decodeElement(t)
			if err != nil {
				return nil, err
			}
			if t.Name.Local == "type" {
				continue
			}
			if children == nil {
				children = make(map[string]interface{})
			}
			// Id can be repeated; keep the first value
			if _, seen := children[t.Name.Local]; !seen {
				children[t.Name.Local] = v
			}
		case xml.EndElement:
			if children != nil {
				return children, nil
			}
			if start.Name.Local == "records" {
				return map[string]interface{}{}, nil
			}
			return text.String(), nil
		}
	}
}
