// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewObserver_MetricsWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	obs := NewObserver(ObservabilityMetrics, &buf)

	finish := obs.StartTiming("store", "save", "demo")
	finish(false, zap.String("app", "demo"))

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "store", entry["component"])
	assert.Equal(t, "save", entry["operation"])
	assert.Equal(t, false, entry["success"])
	assert.Equal(t, "demo", entry["target"])
}

func TestNewObserver_MetricsSkipsDebug(t *testing.T) {
	var buf bytes.Buffer
	obs := NewObserver(ObservabilityMetrics, &buf)

	obs.StartTiming("store", "load", "demo")(true)
	assert.Empty(t, buf.String())
}

func TestNopAndNilObserver(t *testing.T) {
	var nilObs *Observer
	assert.NotNil(t, nilObs.Logger())
	assert.Equal(t, ObservabilityOff, nilObs.Level())
	nilObs.Sync()

	obs := NewObserver(ObservabilityOff, &bytes.Buffer{})
	assert.Equal(t, ObservabilityOff, obs.Level())
	obs.Named("x").StartTiming("a", "b", "")(true)
}
