// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeInline, false},
		{"inline", ModeInline, false},
		{"observe", ModeObserve, false},
		{"off", ModeOff, false},
		{"xdp", "", true},
		{"INLINE", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.KindValidation, errors.GetKind(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestXDPAction(t *testing.T) {
	assert.Equal(t, XDPPass, XDPAction(engine.VerdictPass))
	assert.Equal(t, XDPDrop, XDPAction(engine.VerdictDrop))
	assert.Equal(t, XDPAborted, XDPAction(engine.VerdictAbort))
	assert.Equal(t, XDPAborted, XDPAction(engine.Verdict(42)))
}

func TestNFVerdict(t *testing.T) {
	assert.Equal(t, NFAccept, NFVerdict(engine.VerdictPass))
	assert.Equal(t, NFDrop, NFVerdict(engine.VerdictDrop))
	assert.Equal(t, NFDrop, NFVerdict(engine.VerdictAbort))
}

type nopClassifier struct{}

func (nopClassifier) Classify([]byte) engine.Decision     { return engine.Decision{} }
func (nopClassifier) ClassifyIPv4([]byte) engine.Decision { return engine.Decision{} }

func TestNew(t *testing.T) {
	logger := logging.Discard()

	t.Run("interface required", func(t *testing.T) {
		cfg := DefaultConfig()
		_, err := New(cfg, nopClassifier{}, nil, logger)
		require.Error(t, err)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = "bogus"
		cfg.Interface = "eth0"
		_, err := New(cfg, nopClassifier{}, nil, logger)
		require.Error(t, err)
	})

	t.Run("modes", func(t *testing.T) {
		for _, m := range []Mode{ModeInline, ModeObserve, ModeOff} {
			cfg := DefaultConfig()
			cfg.Mode = m
			cfg.Interface = "eth0"
			h, err := New(cfg, nopClassifier{}, nil, logger)
			require.NoError(t, err)
			assert.Equal(t, string(m), h.Name())
		}
	})

	t.Run("off blocks until cancelled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = ModeOff
		h, err := New(cfg, nopClassifier{}, nil, logger)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.Run(ctx) }()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("off hook did not return")
		}
	})
}

func TestResolveInterfaceMissing(t *testing.T) {
	_, err := ResolveInterface("flowgate-nope0")
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}
