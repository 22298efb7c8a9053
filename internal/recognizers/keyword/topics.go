// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"docguard/internal/recognizers/model"
)

// lexicon is the phrase list of one topic. Strong phrases on their own are
// enough to admit a topic; weak ones need company.
type lexicon struct {
	label  string
	strong []string
	weak   []string
}

var lexicons = []lexicon{
	{
		label:  "medical",
		strong: []string{"dosage", "prescription", "diagnosis", "you should take", "mg of", "side effects", "treatment plan"},
		weak:   []string{"doctor", "symptom", "symptoms", "medication", "pain", "fever", "patient", "clinic", "therapy"},
	},
	{
		label:  "harmful",
		strong: []string{"how to make a bomb", "build a weapon", "self-harm", "poison someone", "untraceable"},
		weak:   []string{"explosive", "weapon", "hurt", "attack", "kill", "overdose"},
	},
	{
		label:  "financial",
		strong: []string{"you should invest", "buy this stock", "guaranteed return", "investment advice", "portfolio allocation"},
		weak:   []string{"stock", "stocks", "invest", "crypto", "bitcoin", "retirement", "dividend", "mortgage", "interest rate"},
	},
	{
		label:  "legal",
		strong: []string{"legal advice", "you should sue", "file a lawsuit", "plead guilty", "breach of contract"},
		weak:   []string{"lawyer", "attorney", "court", "lawsuit", "contract", "liability", "statute", "custody"},
	},
}

const (
	strongWeight = 1.5
	weakWeight   = 1.0
	maxTopic     = 0.99
)

type compiledLexicon struct {
	label  string
	strong *regexp.Regexp
	weak   *regexp.Regexp
}

// TopicClassifier is a keyword topic predictor. Each topic's score grows
// with the weight of distinct phrase hits, score = 1 - 0.5^weight, and its
// span covers the first through last hit.
type TopicClassifier struct {
	topics []compiledLexicon
}

// NewTopicClassifier creates a classifier over the built-in lexicons
func NewTopicClassifier() *TopicClassifier {
	c := &TopicClassifier{}
	for _, lx := range lexicons {
		c.topics = append(c.topics, compiledLexicon{
			label:  lx.label,
			strong: phraseRegexp(lx.strong),
			weak:   phraseRegexp(lx.weak),
		})
	}
	return c
}

func phraseRegexp(phrases []string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	// longest first so "stocks" wins over "stock"
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Predict implements model.Predictor. A label is served when it names the
// topic directly ("medical") or with an "-advice" suffix.
func (c *TopicClassifier) Predict(ctx context.Context, text string, labels []string) ([]model.Prediction, error) {
	requested := make(map[string]bool, len(labels))
	for _, l := range labels {
		requested[strings.TrimSuffix(strings.ToLower(l), "-advice")] = true
	}

	var out []model.Prediction
	for _, topic := range c.topics {
		if !requested[topic.label] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		weight := 0.0
		start, end := -1, -1
		seen := make(map[string]bool)
		score := func(re *regexp.Regexp, w float64) {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				if start < 0 || loc[0] < start {
					start = loc[0]
				}
				end = max(end, loc[1])
				phrase := strings.ToLower(text[loc[0]:loc[1]])
				if !seen[phrase] {
					seen[phrase] = true
					weight += w
				}
			}
		}
		score(topic.strong, strongWeight)
		score(topic.weak, weakWeight)

		if weight == 0 {
			continue
		}
		out = append(out, model.Prediction{
			Label: topic.label,
			Start: start,
			End:   end,
			Score: math.Min(1-math.Pow(0.5, weight), maxTopic),
		})
	}
	return out, nil
}
