package filetools

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// MaxContentChars bounds the text fed back to the model per file.
const MaxContentChars = 1000

const maxTableRows = 50

var whitespaceRe = regexp.MustCompile(`\s+`)

type format int

const (
	formatUnsupported format = iota
	formatPDF
	formatXLSX
	formatCSV
	formatHTML
	formatText
)

func detectFormat(name, contentType string) format {
	ext := strings.ToLower(filepath.Ext(name))
	ct := strings.ToLower(contentType)
	switch {
	case ext == ".pdf" || strings.HasPrefix(ct, "application/pdf"):
		return formatPDF
	case ext == ".xlsx" || strings.Contains(ct, "spreadsheetml"):
		return formatXLSX
	case ext == ".csv" || strings.HasPrefix(ct, "text/csv"):
		return formatCSV
	case ext == ".html" || ext == ".htm" || strings.HasPrefix(ct, "text/html"):
		return formatHTML
	case strings.HasPrefix(ct, "text/"), ct == "application/json", ct == "application/xml":
		return formatText
	}
	switch ext {
	case ".txt", ".md", ".json", ".log", ".yaml", ".yml", ".xml":
		return formatText
	}
	return formatUnsupported
}

// Extract turns file contents into text for the model. Unsupported types are
// summarized by name, type and size.
func Extract(name, contentType string, data []byte) (string, error) {
	switch detectFormat(name, contentType) {
	case formatPDF:
		return extractPDF(data)
	case formatXLSX:
		return extractXLSX(data)
	case formatCSV:
		return extractCSV(data)
	case formatHTML:
		return extractHTML(data)
	case formatText:
		return string(data), nil
	}
	if contentType == "" {
		contentType = "unknown type"
	}
	return fmt.Sprintf("File %q (%s, %d bytes) cannot be read as text.", name, contentType, len(data)), nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, "could not open pdf")
	}
	text, err := r.GetPlainText()
	if err != nil {
		return "", errors.Wrap(err, "could not extract pdf text")
	}
	b, err := io.ReadAll(text)
	if err != nil {
		return "", errors.Wrap(err, "could not read pdf text")
	}
	return strings.TrimSpace(string(b)), nil
}

func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "could not open spreadsheet")
	}
	defer func() { _ = f.Close() }()

	var sb strings.Builder
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", errors.Wrapf(err, "could not read sheet %s", sheet)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## " + sheet + "\n\n")
		sb.WriteString(markdownTable(rows))
	}
	return sb.String(), nil
}

func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", errors.Wrap(err, "could not parse csv")
	}
	return markdownTable(rows), nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "could not parse html")
	}
	doc.Find("script, style, noscript").Remove()
	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " ")), nil
}

// markdownTable renders rows with the first row as header.
func markdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return "(empty)\n"
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return "(empty)\n"
	}

	var sb strings.Builder
	writeRow := func(r []string) {
		sb.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(r) {
				cell = strings.ReplaceAll(strings.TrimSpace(r[i]), "|", `\|`)
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}

	writeRow(rows[0])
	sb.WriteString("|")
	for i := 0; i < width; i++ {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	body := rows[1:]
	if len(body) > maxTableRows {
		body = body[:maxTableRows]
	}
	for _, r := range body {
		writeRow(r)
	}
	if len(rows)-1 > maxTableRows {
		sb.WriteString(fmt.Sprintf("\n(%d more rows)\n", len(rows)-1-maxTableRows))
	}
	return sb.String()
}

// Truncate caps s at MaxContentChars runes.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxContentChars {
		return s
	}
	return string(r[:MaxContentChars]) + fmt.Sprintf("\n[truncated, %d characters total]", len(r))
}
