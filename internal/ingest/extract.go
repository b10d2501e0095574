package ingest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extraction is the raw text pulled out of an uploaded file plus the
// metadata worth keeping.
type Extraction struct {
	Text      string
	Title     string
	Author    string
	PageCount int
}

// Extract pulls plain text out of file data. PDFs go through the pdf
// reader; anything else is treated as UTF-8 text.
func Extract(filename string, data []byte) (Extraction, error) {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return extractPDF(filename, data)
	}
	return Extraction{
		Text:  string(data),
		Title: titleFromFilename(filename),
	}, nil
}

func extractPDF(filename string, data []byte) (Extraction, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extraction{}, fmt.Errorf("open pdf: %w", err)
	}

	ex := Extraction{PageCount: r.NumPage()}

	plain, err := r.GetPlainText()
	if err != nil {
		return Extraction{}, fmt.Errorf("extract pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return Extraction{}, fmt.Errorf("read pdf text: %w", err)
	}
	ex.Text = string(b)

	if info := r.Trailer().Key("Info"); !info.IsNull() {
		ex.Title = info.Key("Title").Text()
		ex.Author = info.Key("Author").Text()
	}
	if ex.Title == "" {
		ex.Title = titleFromFilename(filename)
	}
	return ex, nil
}

// titleFromFilename derives a display title when the document carries
// none: drop the extension, turn separators into spaces.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return strings.TrimSpace(base)
}
