// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Not parallel: Setup mutates the global logger.
func TestSetup(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup("warn", "", &buf))
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := Component("poller")
	logger.Info().Msg("hidden")
	logger.Warn().Int("tick", 7).Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"poller"`)
	assert.Contains(t, out, `"tick":7`)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestSetup_BadLevel(t *testing.T) {
	err := Setup("loud", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
