package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStage(t *testing.T) {
	for in, want := range map[string]ProcessingStage{
		"text_extraction": StageTextExtraction,
		" Data ":          StageDataExtraction,
		"analysis":        StageFullAnalysis,
		"full_analysis":   StageFullAnalysis,
	} {
		got, ok := ParseStage(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseStage("summarise")
	assert.False(t, ok)

	assert.False(t, StageTextExtraction.UsesAI())
	assert.True(t, StageFullAnalysis.UsesAI())
}

func TestParseSourceKind(t *testing.T) {
	k, ok := ParseSourceKind("")
	assert.True(t, ok)
	assert.Equal(t, SourceManualUpload, k)
	k, ok = ParseSourceKind("imported_record")
	assert.True(t, ok)
	assert.Equal(t, SourceImportedRecord, k)
	_, ok = ParseSourceKind("email")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusPending.Valid())
	assert.False(t, DocumentStatus("queued").Valid())
}

func TestExtensions(t *testing.T) {
	assert.Equal(t, PDF, MapExtToFormat(".PDF"))
	assert.Equal(t, TXT, MapExtToFormat("md"))
	assert.Equal(t, UNKNOWN, MapExtToFormat(".xlsx"))

	assert.Equal(t, MimeDOCX, MimeTypeForExt(".docx"))
	assert.Equal(t, MimeText, MimeTypeForExt("TXT"))
	assert.Equal(t, MimeOctet, MimeTypeForExt(".nosuchext"))
	assert.Equal(t, "text/html", BaseMimeType("Text/HTML; charset=utf-8"))
}

func TestCanonicalizeFieldType(t *testing.T) {
	tests := []struct {
		in   string
		want FieldType
		ok   bool
	}{
		{"integer", FieldInteger, true},
		{" Int ", FieldInteger, true},
		{"year", FieldInteger, true},
		{"float", FieldNumber, true},
		{"yes/no", FieldBoolean, true},
		{"string[]", FieldList, true},
		{"datetime", FieldDate, true},
		{"", FieldString, false},
		{"who or what was studied", FieldString, false},
	}
	for _, tt := range tests {
		got, ok := CanonicalizeFieldType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
	assert.Len(t, FieldTypesAsStringSlice(), 6)
}
