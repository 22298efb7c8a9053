// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package keyword provides rule-based predictors so the engine runs without
// an external model runtime.
package keyword

import (
	"fmt"
	"sort"
	"strings"

	"docguard/internal/recognizers/model"
)

// Built-in predictor identifiers accepted in configuration
const (
	EntityModel = "keyword-ner"
	TopicModel  = "keyword-topic"
)

var builders = map[string]func() (model.Predictor, error){
	EntityModel: func() (model.Predictor, error) { return NewNameTagger() },
	TopicModel:  func() (model.Predictor, error) { return NewTopicClassifier(), nil },
}

// Models returns the built-in predictor identifiers
func Models() []string {
	ids := make([]string, 0, len(builders))
	for id := range builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New returns the built-in predictor with the given identifier
func New(id string) (model.Predictor, error) {
	build, ok := builders[id]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (available: %s)", id, strings.Join(Models(), ", "))
	}
	return build()
}
