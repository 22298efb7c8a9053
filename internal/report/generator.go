// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"docguard/internal/apperr"
	"docguard/internal/observability"
	"docguard/internal/registry"
	"docguard/internal/store"

	"go.uber.org/zap"
)

// Generator writes report artifacts beside an application's metadata. It
// never modifies metadata.json.
type Generator struct {
	store      *store.CacheStore
	categories func(kind string) (registry.Category, bool)
	observer   *observability.Observer
}

// Option configures a Generator
type Option func(*Generator)

// WithRegistry resolves entity kind categories from reg
func WithRegistry(reg *registry.Registry) Option {
	return func(g *Generator) {
		g.categories = func(kind string) (registry.Category, bool) {
			k, ok := reg.Kind(kind)
			return k.Category, ok
		}
	}
}

// WithObserver sets the observability component
func WithObserver(o *observability.Observer) Option {
	return func(g *Generator) { g.observer = o }
}

// NewGenerator creates a report generator over s
func NewGenerator(s *store.CacheStore, opts ...Option) *Generator {
	g := &Generator{store: s, observer: observability.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Build loads app's metadata and derives its report
func (g *Generator) Build(app string) (*Report, error) {
	meta, found, err := g.store.Load(app)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.Report("report.build", app, "no metadata for application", nil)
	}
	return Build(meta, g.categories), nil
}

// JSON returns the canonical report.json bytes for app without writing them
func (g *Generator) JSON(app string) ([]byte, error) {
	r, err := g.Build(app)
	if err != nil {
		return nil, err
	}
	data, err := store.Marshal(r)
	if err != nil {
		return nil, apperr.Report("report.json", app, "encoding report", err)
	}
	return data, nil
}

// WriteJSONReport writes report.json and returns its path. The same
// metadata always produces the same bytes.
func (g *Generator) WriteJSONReport(ctx context.Context, app string) (string, error) {
	finish := g.observer.StartTiming("report", "write_json", app)

	data, err := g.JSON(app)
	if err != nil {
		finish(false, zap.Error(err))
		return "", err
	}

	path := g.store.Layout().ReportJSON(app)
	if err := g.publish(ctx, app, path, data); err != nil {
		finish(false, zap.Error(err))
		return "", err
	}
	finish(true, zap.String("path", path))
	return path, nil
}

// ReadJSONReport reads a previously written report.json
func (g *Generator) ReadJSONReport(app string) (*Report, error) {
	path := g.store.Layout().ReportJSON(app)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Report("report.read_json", app, "report has not been generated", err)
		}
		return nil, apperr.Report("report.read_json", app, "reading report", err)
	}
	r, err := Decode(data)
	if err != nil {
		return nil, apperr.Report("report.read_json", app, "decoding report", err)
	}
	return r, nil
}

// PDF renders app's report through template and returns the PDF bytes
// without writing them. A missing or broken template is a configuration
// error; missing metadata is a report error.
func (g *Generator) PDF(app, template string) ([]byte, []byte, error) {
	r, err := g.Build(app)
	if err != nil {
		return nil, nil, err
	}

	tmpl, err := loadTemplate(template)
	if err != nil {
		return nil, nil, apperr.Config("report.pdf", "invalid report template", err)
	}
	text, err := renderText(tmpl, r)
	if err != nil {
		return nil, nil, apperr.Config("report.pdf", "invalid report template", err)
	}

	pdfData, err := renderPDF(text)
	if err != nil {
		return nil, nil, apperr.Report("report.pdf", app, "rendering pdf", err)
	}
	jsonData, err := store.Marshal(r)
	if err != nil {
		return nil, nil, apperr.Report("report.pdf", app, "encoding report", err)
	}
	return jsonData, pdfData, nil
}

// WritePDFReport writes report.pdf, refreshing report.json it is derived
// from, and returns the PDF path. Nothing is written unless both render.
func (g *Generator) WritePDFReport(ctx context.Context, app, template string) (string, error) {
	finish := g.observer.StartTiming("report", "write_pdf", app)

	jsonData, pdfData, err := g.PDF(app, template)
	if err != nil {
		finish(false, zap.Error(err))
		return "", err
	}

	layout := g.store.Layout()
	if err := g.publish(ctx, app, layout.ReportJSON(app), jsonData); err != nil {
		finish(false, zap.Error(err))
		return "", err
	}
	path := layout.ReportPDF(app)
	if err := g.publish(ctx, app, path, pdfData); err != nil {
		finish(false, zap.Error(err))
		return "", err
	}
	finish(true, zap.String("path", path), zap.Int("bytes", len(pdfData)))
	return path, nil
}

// publish writes a report file while holding the application's lock so
// that a concurrent reset cannot leave a report without metadata.
func (g *Generator) publish(ctx context.Context, app, path string, data []byte) error {
	release, err := g.store.Lock(ctx, app)
	if err != nil {
		return err
	}
	defer release()

	if _, found, err := g.store.Load(app); err != nil || !found {
		return apperr.Report("report.publish", app, "metadata removed during report generation", err)
	}
	if err := store.WriteFileAtomic(path, data); err != nil {
		return apperr.Report("report.publish", app, "writing "+path, err)
	}
	return nil
}
