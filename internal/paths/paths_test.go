// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCacheRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)

	abs := filepath.Join(t.TempDir(), "cache")

	cases := []struct {
		name string
		root string
		want string
	}{
		{"default", "", filepath.Join(home, DefaultCacheRoot)},
		{"relative", ".custom", filepath.Join(home, ".custom")},
		{"tilde", "~/.other", filepath.Join(home, ".other")},
		{"absolute", abs, abs},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveCacheRoot(tc.root)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLayout(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)

	assert.Equal(t, filepath.Join(root, "metadata", "demo", "metadata.json"), l.MetadataFile("demo"))
	assert.Equal(t, filepath.Join(root, "metadata", "demo", "report.json"), l.ReportJSON("demo"))
	assert.Equal(t, filepath.Join(root, "metadata", "demo", "report.pdf"), l.ReportPDF("demo"))
}

func TestValidateAppName(t *testing.T) {
	for _, good := range []string{"demo", "my-app_1", "App Name"} {
		assert.NoError(t, ValidateAppName(good), good)
	}
	for _, bad := range []string{"", "   ", ".", "..", "a/b", `a\b`, "nul\x00"} {
		assert.Error(t, ValidateAppName(bad), bad)
	}
}

func TestGetConfigDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	assert.Equal(t, dir, GetConfigDir())
	assert.Equal(t, filepath.Join(dir, "config.yaml"), GetConfigFile())
}
