package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/testutil"
)

type stubRunner struct {
	out  []byte
	err  error
	name string
	args []string
}

func (s *stubRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	s.name, s.args = name, args
	return s.out, []byte("stderr"), s.err
}

func newTestExtractor(cfg Config) *Extractor {
	return NewExtractor(cfg, testutil.Logger())
}

func TestExtractPlainTextKeepsContent(t *testing.T) {
	in := "  Title\n\n\n\nA well-\nknown  effect\twas seen.\r\nEnd  "
	tests := []struct {
		name     string
		fileName string
		warning  bool
	}{
		{"txt", "notes.txt", false},
		{"markdown", "notes.md", false},
		{"unknown extension", "notes.log", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestExtractor(Config{}).Extract(context.Background(), tt.fileName, []byte(in))
			require.NoError(t, err)
			assert.Equal(t, in, res.Text)
			assert.Equal(t, "plain", res.Method)
			assert.Equal(t, tt.warning, len(res.Warnings) > 0)
		})
	}
}

func TestExtractDecodesTextEncodings(t *testing.T) {
	utf16le, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("Résumé"))
	require.NoError(t, err)
	utf16be, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("Résumé"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		want    string
		warning string
	}{
		{"utf-8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "Résumé"...), "Résumé", ""},
		{"utf-16le", utf16le, "Résumé", ""},
		{"utf-16be", utf16be, "Résumé", ""},
		{"windows-1252", []byte{'c', 'a', 'f', 0xE9}, "café", "not valid UTF-8; decoded as Windows-1252"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestExtractor(Config{}).Extract(context.Background(), "cv.txt", tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, constants.TXT, res.SourceType)
			if tt.warning != "" {
				assert.Contains(t, res.Warnings, tt.warning)
			}
		})
	}
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     []byte
		msg      string
	}{
		{"empty", "a.txt", nil, "file is empty"},
		{"whitespace only", "a.txt", []byte(" \n\t\r\n"), "no text could be extracted"},
		{"binary with unknown extension", "blob.bin", []byte("PK\x03\x04\x00\x00\x01"), `unsupported file type "bin"`},
		{"not a docx", "paper.docx", []byte("plain words"), "could not read DOCX content"},
		{"docx without body", "paper.docx", zipWith(t, "word/styles.xml", "<styles/>"), "could not read DOCX content"},
		{"rtf without header", "paper.rtf", []byte("hello"), "could not read RTF content"},
		{"broken pdf", "paper.pdf", []byte("%PDF-1.4 not really"), "could not read PDF content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestExtractor(Config{}).Extract(context.Background(), tt.fileName, tt.data)
			require.Error(t, err)
			assert.Equal(t, common.KindExtraction, common.KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
			assert.Contains(t, err.Error(), tt.fileName)
		})
	}
}

func TestExtractTruncatesToMaxChars(t *testing.T) {
	res, err := newTestExtractor(Config{MaxChars: 5}).Extract(context.Background(), "a.txt", []byte("ééééééé"))
	require.NoError(t, err)
	assert.Equal(t, "ééééé", res.Text)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Warnings, "text truncated to 5 characters")
}

const docxBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t xml:space="preserve">Kept </w:t></w:r><w:del><w:r><w:delText>removed</w:delText></w:r></w:del><w:r><w:t>text</w:t><w:br/><w:t>next line</w:t></w:r></w:p>
<w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/><w:tab w:val="right" w:pos="9360"/></w:tabs></w:pPr><w:r><w:t>Sample</w:t></w:r><w:r><w:tab/><w:t>size</w:t></w:r></w:p>
</w:body></w:document>`

func TestWordprocessingText(t *testing.T) {
	got, err := wordprocessingText(strings.NewReader(docxBody))
	require.NoError(t, err)
	assert.Equal(t, "Kept text\nnext line\nSample\tsize\n", got)

	_, err = wordprocessingText(strings.NewReader("<w:document><w:body>"))
	assert.Error(t, err)
}

func TestExtractDOCX(t *testing.T) {
	data := zipWith(t, "word/document.xml", docxBody)
	res, err := newTestExtractor(Config{}).Extract(context.Background(), "Paper.DOCX", data)
	require.NoError(t, err)
	assert.Equal(t, "Kept text\nnext line\nSample size", res.Text)
	assert.Equal(t, constants.DOCX, res.SourceType)
	assert.Equal(t, "docx-xml", res.Method)
}

func TestRTFToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "destinations and escapes",
			in:   `{\rtf1\ansi{\fonttbl{\f0 Times;}}{\*\generator Riched20;}\f0 Caf\'e9 na\u239?ve\par Second\tab line}`,
			want: "Café naïve\nSecond\tline",
		},
		{
			name: "uc changes fallback length",
			in:   `{\rtf1\uc2 A\u8212??B\u8211??C}`,
			want: "A\u2014B\u2013C",
		},
		{
			name: "negative unicode and literal braces",
			in:   `{\rtf1 \u-255?\{x\}\\}`,
			want: "\uff01{x}\\",
		},
		{
			name: "header and footer skipped",
			in:   `{\rtf1{\header Page 1}Body{\footer Confidential}}`,
			want: "Body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rtfToText([]byte(tt.in)))
		})
	}
}

func TestExtractRTF(t *testing.T) {
	in := "{\\rtf1\\ansi Methods\\par\\par\\par Results\\tab 42}"
	res, err := newTestExtractor(Config{}).Extract(context.Background(), "paper.rtf", []byte(in))
	require.NoError(t, err)
	assert.Equal(t, "Methods\n\nResults 42", res.Text)
	assert.Equal(t, "rtf-strip", res.Method)
}

func TestTextFromContentStream(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single line", "BT /F1 12 Tf 72 712 Td (Hello World) Tj ET", "Hello World"},
		{"hex string", "BT\n/F1 12 Tf\n<48656C6C6F> Tj\nET", "Hello"},
		{"hex with spaces and odd length", "BT <48 65 6c 6C 6f 2> Tj (!) Tj ET", "Hello !"},
		{"utf-16 hex", "BT <FEFF00E9> Tj ET", "é"},
		{"kerned array", "BT [(Sam)10(ple) -250 (size)] TJ ET", "Sample size"},
		{"escapes and nested parens", `BT (a \(b\) (c) d\\e) Tj ET`, `a (b) (c) d\e`},
		{"octal escape", `BT (caf\351) Tj ET`, "café"},
		{"vertical move breaks line", "BT 72 700 Td (First) Tj 0 -14 Td (Second) Tj 20 0 Td (part) Tj ET", "First\nSecond part"},
		{"quote operators", `BT (One) Tj (Two) ' 1 2 (Three) " ET`, "One\nTwo\nThree"},
		{"text matrix rows", "BT 1 0 0 1 72 700 Tm (Row one) Tj 1 0 0 1 72 686 Tm (Row two) Tj ET", "Row one\nRow two"},
		{"separate blocks", "BT (A) Tj ET BT (B) Tj ET", "A\nB"},
		{"marked content dict", "/Span <</ActualText (x) /MCID 0>> BDC BT (Shown) Tj ET EMC", "Shown"},
		{"comment", "% (Hidden) Tj\nBT (Shown) Tj ET", "Shown"},
		{"inline image", "BT (Before) Tj ET q BI /W 1 /H 1 ID \x00) Tj EI Q BT (After) Tj ET", "Before\nAfter"},
		{"no text operators", "q 100 0 0 100 72 692 cm /Im1 Do Q", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, textFromContentStream([]byte(tt.in)))
		})
	}
}

func TestMostlyPrintable(t *testing.T) {
	assert.True(t, mostlyPrintable("Sample size was 120.\n"))
	assert.False(t, mostlyPrintable("\x00+\x00\x12\x00\x05\x00D"))
	assert.False(t, mostlyPrintable(""))
}

func TestExtractPDF(t *testing.T) {
	data := buildTextPDF("BT\n/F1 12 Tf\n72 720 Td\n(Hello World) Tj\n0 -14 Td\n<5365636F6E64206C696E65> Tj\nET")
	runner := &stubRunner{}
	e := newTestExtractor(Config{PDFToText: "pdftotext"})
	e.runner = runner

	res, err := e.Extract(context.Background(), "paper.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "Hello World\nSecond line", res.Text)
	assert.Equal(t, "pdfcpu", res.Method)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, constants.PDF, res.SourceType)
	assert.Empty(t, runner.name)
}

func TestExtractPDFFallsBackToPDFToText(t *testing.T) {
	runner := &stubRunner{out: []byte("Page one\fPage two\f")}
	e := newTestExtractor(Config{PDFToText: "/usr/bin/pdftotext"})
	e.runner = runner

	res, err := e.Extract(context.Background(), "scan.pdf", []byte("%PDF-1.4 not really"))
	require.NoError(t, err)
	assert.Equal(t, "Page one\n\nPage two", res.Text)
	assert.Equal(t, "pdftotext", res.Method)
	assert.Equal(t, 2, res.Pages)
	require.NotEmpty(t, res.Warnings)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "pdfcpu: "))

	assert.Equal(t, "/usr/bin/pdftotext", runner.name)
	require.Len(t, runner.args, 7)
	assert.Equal(t, []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}, runner.args[:5])
	assert.True(t, strings.HasSuffix(runner.args[5], ".pdf"))
	assert.Equal(t, "-", runner.args[6])
}

func TestExtractPDFFallbackFailure(t *testing.T) {
	e := newTestExtractor(Config{PDFToText: "pdftotext"})
	e.runner = &stubRunner{err: errors.New("exit status 1")}

	_, err := e.Extract(context.Background(), "scan.pdf", []byte("%PDF-1.4 not really"))
	require.Error(t, err)
	assert.Equal(t, common.KindExtraction, common.KindOf(err))
	assert.Contains(t, err.Error(), "pdftotext")
}

func zipWith(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// buildTextPDF writes a one-page PDF with correct xref offsets around stream.
func buildTextPDF(stream string) []byte {
	var b strings.Builder
	offsets := make([]int, 6)
	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")
	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n<< /Length " + strconv.Itoa(len(stream)) + " >>\nstream\n" + stream + "\nendstream\nendobj\n")
	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xref := b.Len()
	b.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		b.WriteString(fmtOffset(offsets[i]) + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n" + strconv.Itoa(xref) + "\n%%EOF\n")
	return []byte(b.String())
}

func fmtOffset(n int) string {
	s := strconv.Itoa(n)
	return strings.Repeat("0", 10-len(s)) + s
}
