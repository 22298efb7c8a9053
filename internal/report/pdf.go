// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"docguard/internal/confidence"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultTemplate names the built-in report template
const DefaultTemplate = "default"

//go:embed templates/default.tmpl
var defaultTemplate string

// A4 portrait in points, origin at the upper left corner
const (
	pageHeight   = 842.0
	marginLeft   = 50.0
	marginTop    = 60.0
	marginBottom = 60.0
	bodySize     = 10
	headingSize  = 16
	sectionSize  = 13
	wrapColumns  = 95
)

var templateFuncs = template.FuncMap{
	"iso": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	},
	"join": strings.Join,
	"labels": func() []string {
		out := make([]string, len(confidence.Labels))
		for i, l := range confidence.Labels {
			out[i] = string(l)
		}
		return out
	},
}

// loadTemplate resolves a template identifier: empty or "default" selects
// the built-in template, anything else is a template file path.
func loadTemplate(id string) (*template.Template, error) {
	source := defaultTemplate
	name := DefaultTemplate
	if id != "" && id != DefaultTemplate {
		data, err := os.ReadFile(id)
		if err != nil {
			return nil, fmt.Errorf("reading template %q: %w", id, err)
		}
		source = string(data)
		name = id
	}

	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parsing template %q: %w", id, err)
	}
	return tmpl, nil
}

// renderText executes the template over the report
func renderText(tmpl *template.Template, r *Report) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("executing template %q: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// page content in the pdfcpu JSON create format
type pdfFont struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type pdfText struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  pdfFont    `json:"font"`
}

type pdfContent struct {
	Text []pdfText `json:"text"`
}

type pdfPage struct {
	Content pdfContent `json:"content"`
}

type pdfDocument struct {
	Paper  string             `json:"paper"`
	Origin string             `json:"origin"`
	Pages  map[string]pdfPage `json:"pages"`
}

// layout paginates report text. Lines starting with "# " and "## " are
// headings; blank lines add vertical space.
func layout(text string) pdfDocument {
	doc := pdfDocument{Paper: "A4P", Origin: "UpperLeft", Pages: map[string]pdfPage{}}

	pageNum := 1
	y := marginTop
	var current []pdfText

	flush := func() {
		doc.Pages[strconv.Itoa(pageNum)] = pdfPage{Content: pdfContent{Text: current}}
		current = nil
	}

	emit := func(value string, font pdfFont) {
		step := float64(font.Size) * 1.4
		if y+step > pageHeight-marginBottom {
			flush()
			pageNum++
			y = marginTop
		}
		current = append(current, pdfText{Value: value, Pos: [2]float64{marginLeft, y}, Font: font})
		y += step
	}

	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		line = strings.TrimRight(line, " \t")
		font := pdfFont{Name: "Helvetica", Size: bodySize}
		switch {
		case strings.HasPrefix(line, "## "):
			line = strings.TrimPrefix(line, "## ")
			font = pdfFont{Name: "Helvetica-Bold", Size: sectionSize}
		case strings.HasPrefix(line, "# "):
			line = strings.TrimPrefix(line, "# ")
			font = pdfFont{Name: "Helvetica-Bold", Size: headingSize}
		}

		if line == "" {
			y += bodySize
			continue
		}
		for _, part := range wrap(latin1(line), wrapColumns) {
			emit(part, font)
		}
	}
	flush()
	return doc
}

// latin1 replaces characters the standard PDF fonts cannot encode
func latin1(s string) string {
	return strings.Map(func(r rune) rune {
		if r == utf8.RuneError || r > 0xFF || (r < 0x20 && r != '\t') {
			return '?'
		}
		return r
	}, s)
}

func wrap(line string, width int) []string {
	var out []string
	for utf8.RuneCountInString(line) > width {
		runes := []rune(line)
		cut := width
		for i := width; i > width/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " "))
		line = "  " + strings.TrimLeft(string(runes[cut:]), " ")
	}
	return append(out, line)
}

// renderPDF produces PDF bytes for report text
func renderPDF(text string) ([]byte, error) {
	content, err := json.Marshal(layout(text))
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	conf := model.NewDefaultConfiguration()
	if err := api.Create(nil, bytes.NewReader(content), &out, conf); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	return out.Bytes(), nil
}

// ExtractPDFText returns the plain text of every page of a PDF file
func ExtractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening PDF: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(text)
	}
	return buf.String(), nil
}

// ValidatePDF checks a PDF file's structure
func ValidatePDF(path string) error {
	return api.ValidateFile(path, model.NewDefaultConfiguration())
}
