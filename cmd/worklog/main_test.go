package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklog-sh/worklog/internal/timespan"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "user error", err: configError{errors.New("missing token")}, want: exitUser},
		{name: "wrapped user error", err: fmt.Errorf("run failed: %w", configError{errors.New("bad key")}), want: exitUser},
		{name: "operational error", err: errors.New("slack api unreachable"), want: exitRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestBadTimespanIsUserError(t *testing.T) {
	// The summarize command rejects timespan syntax up front and
	// classifies it as a user error.
	_, err := timespan.Parse("fortnight", time.UTC, time.Now())
	require.Error(t, err)
	assert.Equal(t, exitUser, exitCode(configError{err}))
}
