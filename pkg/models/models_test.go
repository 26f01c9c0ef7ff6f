package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Credentials{Username: "u@example.com", Password: "pw", ClientID: "cid", ClientSecret: "sec"}
	b := a

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestFingerprintDistinct(t *testing.T) {
	base := Credentials{Username: "u@example.com", Password: "pw", ClientID: "cid", ClientSecret: "sec"}

	variants := []Credentials{
		{Username: "v@example.com", Password: "pw", ClientID: "cid", ClientSecret: "sec"},
		{Username: "u@example.com", Password: "pw2", ClientID: "cid", ClientSecret: "sec"},
		{Username: "u@example.com", Password: "pw", ClientID: "cid2", ClientSecret: "sec"},
		{Username: "u@example.com", Password: "pw", ClientID: "cid", ClientSecret: "sec2"},
		{Username: "u@example.com", Password: "pw", ClientID: "cid", ClientSecret: "sec", LoginURL: "https://test.salesforce.com"},
		// same concatenation, different field boundaries
		{Username: "u@example.comp", Password: "w", ClientID: "cid", ClientSecret: "sec"},
	}

	seen := map[string]bool{base.Fingerprint(): true}
	for _, v := range variants {
		fp := v.Fingerprint()
		assert.False(t, seen[fp], "collision for %+v", v)
		seen[fp] = true
	}
}

func TestCredentialsValidate(t *testing.T) {
	assert.NoError(t, Credentials{Username: "u", Password: "p", ClientID: "c", ClientSecret: "s"}.Validate())
	assert.Error(t, Credentials{Username: "u", Password: "p", ClientID: "c"}.Validate())
	assert.Error(t, Credentials{}.Validate())
}

func TestClassify(t *testing.T) {
	tests := map[string]GenericType{
		"currency":  TypeNumber,
		"picklist":  TypeText,
		"unknown-x": TypeUnknown,
		"boolean":   TypeBoolean,
		"date":      TypeDate,
		"datetime":  TypeDateTime,
		"url":       TypeText,
		"int":       TypeNumber,
		"id":        TypeUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, Classify(in), in)
	}
}

func TestDatasetVariants(t *testing.T) {
	var ds []Dataset = []Dataset{
		&ObjectDataset{Name: "Account", RowCount: 5},
		&ReportDataset{ID: "00O1", Name: "Pipeline", RowCount: 3, Format: FormatTabular},
	}

	for _, d := range ds {
		switch v := d.(type) {
		case *ObjectDataset:
			assert.Equal(t, KindObject, v.Kind())
			assert.Equal(t, int64(5), v.Rows())
		case *ReportDataset:
			assert.Equal(t, KindReport, v.Kind())
			assert.Equal(t, "Pipeline", v.DisplayName())
		default:
			t.Fatalf("unexpected dataset %T", v)
		}
	}
}

func TestReportFormatSupported(t *testing.T) {
	assert.True(t, FormatTabular.Supported())
	assert.True(t, FormatSummary.Supported())
	assert.True(t, FormatMatrix.Supported())
	assert.False(t, FormatJoined.Supported())
	assert.False(t, ReportFormat("").Supported())
}

func TestBatchStatePending(t *testing.T) {
	assert.True(t, BatchQueued.Pending())
	assert.True(t, BatchInProgress.Pending())
	assert.False(t, BatchCompleted.Pending())
	assert.False(t, BatchFailed.Pending())
}

func TestRecordFields(t *testing.T) {
	r := Record{"b": 1, "a": 2}
	assert.Equal(t, []string{"a", "b"}, r.Fields())
}
