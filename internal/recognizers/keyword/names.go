// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import (
	"bufio"
	"bytes"
	"compress/gzip"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

//go:embed data/first_names.txt.gz
var firstNamesGZ []byte

//go:embed data/last_names.txt.gz
var lastNamesGZ []byte

// nameDatabases holds lowercased names for O(1) lookups
type nameDatabases struct {
	first map[string]bool
	last  map[string]bool
}

var (
	names     *nameDatabases
	namesOnce sync.Once
	namesErr  error
)

func loadNames() (*nameDatabases, error) {
	namesOnce.Do(func() {
		db := &nameDatabases{first: make(map[string]bool), last: make(map[string]bool)}
		if err := readNames(firstNamesGZ, db.first); err != nil {
			namesErr = fmt.Errorf("failed to load first names: %w", err)
			return
		}
		if err := readNames(lastNamesGZ, db.last); err != nil {
			namesErr = fmt.Errorf("failed to load last names: %w", err)
			return
		}
		names = db
	})
	return names, namesErr
}

func readNames(compressed []byte, into map[string]bool) error {
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if validName(name) {
			into[strings.ToLower(name)] = true
		}
	}
	return scanner.Err()
}

func validName(name string) bool {
	if len(name) < 2 || len(name) > 30 {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != '-' && r != '\'' {
			return false
		}
	}
	return true
}
