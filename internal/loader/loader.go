// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package loader reads local files into documents for analysis.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"docguard/internal/detector"

	"github.com/ledongthuc/pdf"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ErrUnsupported is returned for files the loader cannot turn into text
var ErrUnsupported = errors.New("unsupported file type")

// DefaultMaxFileSize bounds the size of a file the loader will read
const DefaultMaxFileSize = 100 * 1024 * 1024

// DefaultMaxPages bounds how many PDF pages are extracted
const DefaultMaxPages = 500

// Loader turns files into documents
type Loader struct {
	identities  []string
	maxFileSize int64
	maxPages    int
}

// Option configures a Loader
type Option func(*Loader)

// WithIdentities attaches authorized identities to every loaded document
func WithIdentities(ids ...string) Option {
	return func(l *Loader) { l.identities = ids }
}

// WithMaxFileSize sets the largest file the loader reads
func WithMaxFileSize(n int64) Option {
	return func(l *Loader) { l.maxFileSize = n }
}

// WithMaxPages sets how many PDF pages are extracted
func WithMaxPages(n int) Option {
	return func(l *Loader) { l.maxPages = n }
}

// New creates a loader
func New(opts ...Option) *Loader {
	l := &Loader{maxFileSize: DefaultMaxFileSize, maxPages: DefaultMaxPages}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Expand resolves files and directories into a sorted, de-duplicated list
// of regular files. Hidden directories are skipped.
func Expand(inputs []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(path string) {
		path = filepath.Clean(path)
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", input, err)
		}
		if !info.IsDir() {
			add(input)
			continue
		}
		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != input && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", input, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Load reads one file. PDFs contribute their page text, JPEG and TIFF
// images their EXIF tags, anything else must be UTF-8 text.
func (l *Loader) Load(path string) (detector.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return detector.Document{}, fmt.Errorf("error accessing file: %w", err)
	}
	if info.IsDir() {
		return detector.Document{}, fmt.Errorf("%s is a directory", path)
	}
	if l.maxFileSize > 0 && info.Size() > l.maxFileSize {
		return detector.Document{}, fmt.Errorf("%s exceeds the %d byte limit", path, l.maxFileSize)
	}

	doc := detector.Document{
		ID:         filepath.ToSlash(filepath.Clean(path)),
		Identities: append([]string(nil), l.identities...),
		SourceMetadata: map[string]string{
			"path": path,
			"size": strconv.FormatInt(info.Size(), 10),
		},
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, pages, err := l.readPDF(path)
		if err != nil {
			return detector.Document{}, err
		}
		doc.Text = text
		doc.SourceMetadata["type"] = "pdf"
		doc.SourceMetadata["pages"] = strconv.Itoa(pages)
	case ".jpg", ".jpeg", ".tif", ".tiff":
		text, tags, err := readEXIF(path)
		if err != nil {
			return detector.Document{}, err
		}
		doc.Text = text
		doc.SourceMetadata["type"] = "image"
		doc.SourceMetadata["exif_tags"] = strconv.Itoa(tags)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return detector.Document{}, fmt.Errorf("error reading file: %w", err)
		}
		if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
			return detector.Document{}, fmt.Errorf("%s: %w", path, ErrUnsupported)
		}
		doc.Text = string(data)
		doc.SourceMetadata["type"] = "text"
	}
	return doc, nil
}

// readPDF extracts page text in page order
func (l *Loader) readPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("error opening PDF: %w", err)
	}
	defer f.Close()

	pages := r.NumPage()
	limit := pages
	if l.maxPages > 0 && limit > l.maxPages {
		limit = l.maxPages
	}

	var buf strings.Builder
	for i := 1; i <= limit; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(text)
	}
	return buf.String(), pages, nil
}

// exifWalker collects tags as "Name: value" lines
type exifWalker struct {
	lines []string
}

func (w *exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag == nil {
		return nil
	}
	value := tag.String()
	if tag.Format() == tiff.StringVal {
		if s, err := tag.StringVal(); err == nil {
			value = strings.TrimRight(s, "\x00")
		}
	}
	w.lines = append(w.lines, string(name)+": "+value)
	return nil
}

// readEXIF renders an image's EXIF tags as text, sorted by tag name. An
// image without EXIF yields empty text.
func readEXIF(path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return "", 0, nil
	}

	w := &exifWalker{}
	if err := x.Walk(w); err != nil {
		return "", 0, fmt.Errorf("reading EXIF tags: %w", err)
	}
	sort.Strings(w.lines)
	return strings.Join(w.lines, "\n"), len(w.lines), nil
}
