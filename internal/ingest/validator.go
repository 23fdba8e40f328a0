package ingest

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
)

// Policy bounds what the gate accepts.
type Policy struct {
	MaxFileSize      int64
	MaxBatchSize     int
	AllowedMimeTypes []string
	MaxInFlight      int // 0 = every accepted file in flight at once
}

func DefaultPolicy() Policy {
	return Policy{
		MaxFileSize:      constants.DefaultMaxFileSize,
		MaxBatchSize:     constants.DefaultMaxBatchSize,
		AllowedMimeTypes: constants.DefaultAllowedMimeTypes,
	}
}

func PolicyFromConfig(c common.PolicyConfig) Policy {
	p := Policy{
		MaxFileSize:      c.MaxFileSize,
		MaxBatchSize:     c.MaxBatchSize,
		AllowedMimeTypes: c.AllowedMimeTypes,
		MaxInFlight:      c.MaxInFlight,
	}
	def := DefaultPolicy()
	if p.MaxFileSize <= 0 {
		p.MaxFileSize = def.MaxFileSize
	}
	if p.MaxBatchSize <= 0 {
		p.MaxBatchSize = def.MaxBatchSize
	}
	if len(p.AllowedMimeTypes) == 0 {
		p.AllowedMimeTypes = def.AllowedMimeTypes
	}
	return p
}

type ValidationOutcome struct {
	OK     bool
	Reason string
}

// Validate checks type and size. It has no side effects and never fails.
func (p Policy) Validate(fd FileDescriptor) ValidationOutcome {
	mt := constants.BaseMimeType(fd.MimeType)
	if mt == "" || mt == constants.MimeOctet {
		mt = constants.MimeTypeForExt(filepath.Ext(fd.Name))
	}
	if !slices.Contains(p.AllowedMimeTypes, mt) {
		return ValidationOutcome{Reason: fmt.Sprintf(
			"file type %q is not supported; upload a PDF, plain text, RTF or DOCX file", mt)}
	}
	if fd.SizeBytes < 0 {
		return ValidationOutcome{Reason: "file size is unknown"}
	}
	if fd.SizeBytes > p.MaxFileSize {
		return ValidationOutcome{Reason: fmt.Sprintf(
			"file is %s, which exceeds the %s limit", humanBytes(fd.SizeBytes), humanBytes(p.MaxFileSize))}
	}
	return ValidationOutcome{OK: true}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
