package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
)

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name   string
		fd     FileDescriptor
		ok     bool
		reason string
	}{
		{name: "pdf", fd: FileDescriptor{Name: "a.pdf", MimeType: constants.MimePDF, SizeBytes: 1 << 20}, ok: true},
		{name: "docx", fd: FileDescriptor{Name: "a.docx", MimeType: constants.MimeDOCX, SizeBytes: 10}, ok: true},
		{name: "rtf alias", fd: FileDescriptor{Name: "a.rtf", MimeType: "text/rtf", SizeBytes: 10}, ok: true},
		{name: "text with charset", fd: FileDescriptor{Name: "a.txt", MimeType: "text/plain; charset=utf-8", SizeBytes: 10}, ok: true},
		{name: "octet falls back to extension", fd: FileDescriptor{Name: "a.pdf", MimeType: constants.MimeOctet, SizeBytes: 10}, ok: true},
		{name: "empty mime falls back to extension", fd: FileDescriptor{Name: "notes.txt", SizeBytes: 10}, ok: true},
		{name: "exactly at limit", fd: FileDescriptor{Name: "a.pdf", MimeType: constants.MimePDF, SizeBytes: constants.DefaultMaxFileSize}, ok: true},
		{
			name:   "image",
			fd:     FileDescriptor{Name: "scan.png", MimeType: "image/png", SizeBytes: 10},
			reason: `file type "image/png" is not supported; upload a PDF, plain text, RTF or DOCX file`,
		},
		{
			name:   "one byte over",
			fd:     FileDescriptor{Name: "big.pdf", MimeType: constants.MimePDF, SizeBytes: constants.DefaultMaxFileSize + 1},
			reason: "file is 50.0 MiB, which exceeds the 50.0 MiB limit",
		},
		{name: "unknown size", fd: FileDescriptor{Name: "a.pdf", MimeType: constants.MimePDF, SizeBytes: -1}, reason: "file size is unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Validate(tt.fd)
			assert.Equal(t, tt.ok, got.OK)
			if !tt.ok {
				assert.Equal(t, tt.reason, got.Reason)
			}
		})
	}
}

func TestPolicyFromConfigFillsDefaults(t *testing.T) {
	p := PolicyFromConfig(common.PolicyConfig{MaxInFlight: 3})
	assert.Equal(t, constants.DefaultMaxFileSize, p.MaxFileSize)
	assert.Equal(t, constants.DefaultMaxBatchSize, p.MaxBatchSize)
	assert.Equal(t, constants.DefaultAllowedMimeTypes, p.AllowedMimeTypes)
	assert.Equal(t, 3, p.MaxInFlight)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "2.5 MiB", humanBytes(5<<19))
}
