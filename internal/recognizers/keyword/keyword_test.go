// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import (
	"context"
	"math"
	"testing"

	"docguard/internal/recognizers/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameTagger(t *testing.T) {
	tagger, err := NewNameTagger()
	require.NoError(t, err)

	tests := []struct {
		name  string
		text  string
		want  []string
		score []float64
	}{
		{"titled known first name", "Ask Dr. Jane Doe today", []string{"Jane Doe"}, []float64{0.95}},
		{"titled surname only", "Call Mr. Okafor", []string{"Okafor"}, []float64{0.85}},
		{"known pair after capitalized word", "Contact John Smith for access", []string{"John Smith"}, []float64{0.9}},
		{"first name only", "Invoice sent to Maria Zwolinski", []string{"Maria Zwolinski"}, []float64{0.7}},
		{"surname only", "Regards, Quentin Garcia", []string{"Quentin Garcia"}, []float64{0.5}},
		{"no names", "The Quarterly Report is attached", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preds, err := tagger.Predict(context.Background(), tt.text, []string{"person"})
			require.NoError(t, err)
			var got []string
			var scores []float64
			for _, p := range preds {
				assert.Equal(t, PersonLabel, p.Label)
				got = append(got, tt.text[p.Start:p.End])
				scores = append(scores, p.Score)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.score, scores)
		})
	}
}

func TestNameTagger_IgnoresUnrequestedLabels(t *testing.T) {
	tagger, err := NewNameTagger()
	require.NoError(t, err)
	preds, err := tagger.Predict(context.Background(), "John Smith", []string{"medical"})
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestTopicClassifier(t *testing.T) {
	c := NewTopicClassifier()
	text := "Your doctor said the dosage is 20 mg of ibuprofen, so follow the prescription."

	preds, err := c.Predict(context.Background(), text, []string{"medical", "medical-advice", "legal"})
	require.NoError(t, err)
	require.Len(t, preds, 1)

	p := preds[0]
	assert.Equal(t, "medical", p.Label)
	assert.Equal(t, "doctor", text[p.Start:p.Start+len("doctor")])
	assert.Equal(t, len(text)-1, p.End)
	// three strong phrases and one weak: 1 - 0.5^5.5
	assert.InDelta(t, 0.9779029, p.Score, 1e-6)
}

func TestTopicClassifier_Scoring(t *testing.T) {
	c := NewTopicClassifier()

	one := func(text string) model.Prediction {
		t.Helper()
		preds, err := c.Predict(context.Background(), text, []string{"financial-advice"})
		require.NoError(t, err)
		require.Len(t, preds, 1)
		return preds[0]
	}

	assert.InDelta(t, 0.5, one("I read about a stock today").Score, 1e-9)
	assert.InDelta(t, 0.5, one("stock, stock and more stock").Score, 1e-9, "repeats of one phrase count once")
	assert.InDelta(t, 0.75, one("a stock pays a dividend").Score, 1e-9)
	assert.InDelta(t, 1-math.Pow(0.5, 1.5), one("Investment advice: hold").Score, 1e-9)
}

func TestTopicClassifier_NoHits(t *testing.T) {
	preds, err := NewTopicClassifier().Predict(context.Background(), "The weather is nice", []string{"medical", "legal", "harmful", "financial"})
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestNew(t *testing.T) {
	for _, id := range Models() {
		p, err := New(id)
		require.NoError(t, err, id)
		assert.NotNil(t, p)
	}
	_, err := New("gpt-unknown")
	assert.ErrorContains(t, err, "keyword-ner")
}

func TestNameDatabases(t *testing.T) {
	db, err := loadNames()
	require.NoError(t, err)
	assert.True(t, db.first["jane"])
	assert.True(t, db.last["doe"])
	assert.False(t, validName("x"))
	assert.False(t, validName("R2D2"))
}
