// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/paperstruct/pkg/types"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name  string
		cfg   types.LogConfig
		level zapcore.Level
	}{
		{"default", types.LogConfig{}, zapcore.InfoLevel},
		{"debug console", types.LogConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{"warn json", types.LogConfig{Level: "WARN", Format: "json"}, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.level))
			if tt.level > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.level-1))
			}
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(types.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
