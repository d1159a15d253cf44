package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsLogger(t *testing.T) {
	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer func() { _ = logger.Sync() }()
}

func TestForRunAndForCallBindFields(t *testing.T) {
	logger, err := New(true)
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	runLogger := ForRun(logger, "run1")
	require.NotNil(t, runLogger)

	callLogger := ForCall(logger, "run1", "call1")
	require.NotNil(t, callLogger)
}
