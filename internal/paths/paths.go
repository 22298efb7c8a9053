// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// EnvHome overrides the home directory the cache root is resolved against
	EnvHome = "DOCGUARD_HOME"

	// EnvConfigDir overrides the configuration directory
	EnvConfigDir = "DOCGUARD_CONFIG_DIR"

	// DefaultCacheRoot is the home-relative cache directory
	DefaultCacheRoot = ".docguard"

	MetadataDirName  = "metadata"
	MetadataFileName = "metadata.json"
	ReportJSONName   = "report.json"
	ReportPDFName    = "report.pdf"
)

// HomeDir returns the invoking user's home directory, honoring DOCGUARD_HOME
func HomeDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return NormalizePath(dir), nil
	}
	return os.UserHomeDir()
}

// GetConfigDir returns the docguard configuration directory
func GetConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return NormalizePath(dir)
	}

	home, err := HomeDir()
	if err != nil {
		return NormalizePath(DefaultCacheRoot)
	}
	return filepath.Join(home, DefaultCacheRoot)
}

// GetConfigFile returns the path to the main config file
func GetConfigFile() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// ResolveCacheRoot turns a configured cache root into an absolute directory.
// Absolute roots are used as given, "~/" is expanded, and anything else is
// joined onto the home directory.
func ResolveCacheRoot(root string) (string, error) {
	if root == "" {
		root = DefaultCacheRoot
	}
	root = NormalizePath(root)

	if filepath.IsAbs(root) {
		return root, nil
	}

	home, err := HomeDir()
	if err != nil {
		return "", err
	}

	if root == "~" {
		return home, nil
	}
	if strings.HasPrefix(root, "~"+string(filepath.Separator)) {
		return filepath.Join(home, root[2:]), nil
	}
	return filepath.Join(home, root), nil
}

// NormalizePath normalizes separators and cleans a path for the host filesystem
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	if runtime.GOOS == "windows" {
		path = strings.ReplaceAll(path, "/", `\`)
	}
	return filepath.Clean(filepath.FromSlash(path))
}

// Layout is the fixed on-disk contract rooted at a resolved cache root:
//
//	<root>/metadata/<app>/metadata.json
//	<root>/metadata/<app>/report.json
//	<root>/metadata/<app>/report.pdf
type Layout struct {
	Root string
}

// NewLayout creates a layout for an already resolved root
func NewLayout(root string) Layout {
	return Layout{Root: NormalizePath(root)}
}

// MetadataDir returns the directory holding one subdirectory per application
func (l Layout) MetadataDir() string {
	return filepath.Join(l.Root, MetadataDirName)
}

// AppDir returns the directory for one application
func (l Layout) AppDir(app string) string {
	return filepath.Join(l.MetadataDir(), app)
}

// MetadataFile returns the path of an application's metadata.json
func (l Layout) MetadataFile(app string) string {
	return filepath.Join(l.AppDir(app), MetadataFileName)
}

// ReportJSON returns the path of an application's report.json
func (l Layout) ReportJSON(app string) string {
	return filepath.Join(l.AppDir(app), ReportJSONName)
}

// ReportPDF returns the path of an application's report.pdf
func (l Layout) ReportPDF(app string) string {
	return filepath.Join(l.AppDir(app), ReportPDFName)
}

// ValidateAppName checks that an application name can be used as a single
// directory component on every supported platform
func ValidateAppName(app string) error {
	if strings.TrimSpace(app) == "" {
		return &PathValidationError{Path: app, Reason: "application name is empty"}
	}
	if app == "." || app == ".." {
		return &PathValidationError{Path: app, Reason: "application name is a relative directory reference"}
	}
	if strings.ContainsAny(app, `/\`) {
		return &PathValidationError{Path: app, Reason: "application name contains a path separator"}
	}
	if len(app) > 255 {
		return &PathValidationError{Path: app, Reason: "application name exceeds 255 characters"}
	}
	return ValidatePath(app)
}

// ValidatePath validates a path for the current platform
func ValidatePath(path string) error {
	if path == "" {
		return nil
	}

	for i, char := range path {
		if char == 0 {
			return &PathValidationError{Path: path, Reason: "contains null byte"}
		}
		if runtime.GOOS == "windows" && strings.ContainsRune(`<>"|?*`, char) {
			return &PathValidationError{Path: path, Reason: "contains invalid character: " + string(char)}
		}
		// colon is only valid as a drive letter separator
		if runtime.GOOS == "windows" && char == ':' && i != 1 {
			return &PathValidationError{Path: path, Reason: "contains invalid character: :"}
		}
	}
	return nil
}

// PathValidationError represents a path validation error
type PathValidationError struct {
	Path   string
	Reason string
}

func (e *PathValidationError) Error() string {
	return "invalid path '" + e.Path + "': " + e.Reason
}
