// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package store persists AppMetadata under the cache layout.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"docguard/internal/apperr"
	"docguard/internal/model"
	"docguard/internal/observability"
	"docguard/internal/paths"

	"go.uber.org/zap"
)

// MergeFunc folds new state into the existing record. existing is nil
// when the application has no metadata yet.
type MergeFunc func(existing *model.AppMetadata) (*model.AppMetadata, error)

// CacheStore owns AppMetadata persistence. Writers for the same
// application are serialized; unrelated applications proceed in parallel.
type CacheStore struct {
	layout      paths.Layout
	lockTimeout time.Duration
	locks       *keyLocks
	observer    *observability.Observer
}

// Option configures a CacheStore
type Option func(*CacheStore)

// WithLockTimeout bounds how long MergeAndSave and Delete wait for an
// application's lock
func WithLockTimeout(d time.Duration) Option {
	return func(s *CacheStore) { s.lockTimeout = d }
}

// WithObserver sets the observability component
func WithObserver(o *observability.Observer) Option {
	return func(s *CacheStore) { s.observer = o }
}

// New creates a store rooted at an already resolved cache root
func New(root string, opts ...Option) *CacheStore {
	s := &CacheStore{
		layout:   paths.NewLayout(root),
		locks:    newKeyLocks(),
		observer: observability.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the on-disk layout
func (s *CacheStore) Layout() paths.Layout {
	return s.layout
}

// Load returns the stored metadata for app. A missing, unreadable or
// corrupt file is reported as not found.
func (s *CacheStore) Load(app string) (*model.AppMetadata, bool, error) {
	if err := paths.ValidateAppName(app); err != nil {
		return nil, false, apperr.Validation("store.load", err.Error())
	}

	path := s.layout.MetadataFile(app)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.observer.Logger().Warn("unreadable metadata treated as missing",
				zap.String("app", app), zap.String("path", path), zap.Error(err))
		}
		return nil, false, nil
	}

	var meta model.AppMetadata
	if err := json.Unmarshal(data, &meta); err != nil || meta.AppName == "" {
		s.observer.Logger().Warn("corrupt metadata treated as missing",
			zap.String("app", app), zap.String("path", path), zap.Error(err))
		return nil, false, nil
	}
	if meta.AppName != app {
		s.observer.Logger().Warn("metadata app name mismatch",
			zap.String("app", app), zap.String("recorded", meta.AppName))
		meta.AppName = app
	}
	meta.Normalize()
	return &meta, true, nil
}

// Save atomically replaces the stored metadata for app
func (s *CacheStore) Save(app string, meta *model.AppMetadata) error {
	if err := paths.ValidateAppName(app); err != nil {
		return apperr.Validation("store.save", err.Error())
	}
	if meta == nil {
		return apperr.Validation("store.save", "metadata is nil")
	}

	finish := s.observer.StartTiming("store", "save", app)

	out := meta.Clone()
	out.AppName = app
	out.Normalize()

	data, err := Marshal(out)
	if err != nil {
		finish(false, zap.Error(err))
		return apperr.Persistence("store.save", app, err)
	}
	if err := WriteFileAtomic(s.layout.MetadataFile(app), data); err != nil {
		finish(false, zap.Error(err))
		return apperr.Persistence("store.save", app, err)
	}
	finish(true, zap.Int("bytes", len(data)))
	return nil
}

// MergeAndSave runs load, merge and save for app as one critical section
func (s *CacheStore) MergeAndSave(ctx context.Context, app string, merge MergeFunc) (*model.AppMetadata, error) {
	if err := paths.ValidateAppName(app); err != nil {
		return nil, apperr.Validation("store.merge_and_save", err.Error())
	}

	release, err := s.locks.acquire(ctx, app, s.lockTimeout)
	if err != nil {
		return nil, apperr.Persistence("store.merge_and_save", app, err)
	}
	defer release()

	existing, _, err := s.Load(app)
	if err != nil {
		return nil, err
	}

	merged, err := merge(existing)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		return nil, apperr.Persistence("store.merge_and_save", app, fmt.Errorf("merge produced no metadata"))
	}

	if err := s.Save(app, merged); err != nil {
		return nil, err
	}

	out := merged.Clone()
	out.AppName = app
	out.Normalize()
	return out, nil
}

// List returns the names of applications that have metadata, sorted
func (s *CacheStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.layout.MetadataDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, apperr.Persistence("store.list", "", err)
	}

	apps := []string{}
	for _, e := range entries {
		if !e.IsDir() || paths.ValidateAppName(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(s.layout.MetadataFile(e.Name())); err == nil {
			apps = append(apps, e.Name())
		}
	}
	sort.Strings(apps)
	return apps, nil
}

// Delete removes everything stored for app, reports included. It is the
// external reset operation; the engine never calls it. Reports whether
// anything existed.
func (s *CacheStore) Delete(ctx context.Context, app string) (bool, error) {
	if err := paths.ValidateAppName(app); err != nil {
		return false, apperr.Validation("store.delete", err.Error())
	}

	release, err := s.locks.acquire(ctx, app, s.lockTimeout)
	if err != nil {
		return false, apperr.Persistence("store.delete", app, err)
	}
	defer release()

	dir := s.layout.AppDir(app)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return true, apperr.Persistence("store.delete", app, err)
	}
	s.observer.Logger().Info("application metadata deleted", zap.String("app", app))
	return true, nil
}

// Lock holds app's lock until the returned release is called. Report
// writers use it so that report files are published between merges.
func (s *CacheStore) Lock(ctx context.Context, app string) (func(), error) {
	if err := paths.ValidateAppName(app); err != nil {
		return nil, apperr.Validation("store.lock", err.Error())
	}
	release, err := s.locks.acquire(ctx, app, s.lockTimeout)
	if err != nil {
		return nil, apperr.Persistence("store.lock", app, err)
	}
	return release, nil
}

// Marshal is the canonical metadata encoding: two-space indented JSON
// with a trailing newline
func Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
