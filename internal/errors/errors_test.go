package errors_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcerrs "github.com/jdholdren/podcatch/internal/errors"
)

func TestEConstructor(t *testing.T) {
	got := pcerrs.E(
		"connection refused",
		pcerrs.Op("feed.Fetch"),
		pcerrs.Network,
	)
	want := &pcerrs.Error{
		Kind: pcerrs.Network,
		Op:   "feed.Fetch",
		Err:  errors.New("connection refused"),
	}

	assert.Equal(t, want, got)
}

func TestEDefaultsToStore(t *testing.T) {
	err := pcerrs.E(context.DeadlineExceeded)

	assert.Equal(t, pcerrs.Store, err.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("error refreshing: %w", pcerrs.E(pcerrs.Parse, "bad xml"))

	assert.ErrorIs(t, err, pcerrs.ErrParse)
	assert.NotErrorIs(t, err, pcerrs.ErrNetwork)

	kind, ok := pcerrs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pcerrs.Parse, kind)
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := pcerrs.KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestWithURL(t *testing.T) {
	err := pcerrs.WithURL(pcerrs.E(pcerrs.Network, "timeout"), "https://example.com/feed")

	var e *pcerrs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "https://example.com/feed", e.URL)
	assert.Equal(t, "network (https://example.com/feed): timeout", e.Error())
	assert.Equal(t, http.StatusBadGateway, e.Status())
}

func TestStatusOverride(t *testing.T) {
	err := pcerrs.E(http.StatusBadRequest, "missing uri")

	assert.Equal(t, http.StatusBadRequest, err.Status())
	assert.Equal(t, http.StatusInternalServerError, pcerrs.E("boom").Status())
	assert.Equal(t, http.StatusUnprocessableEntity, pcerrs.E(pcerrs.Parse, "boom").Status())
}

func TestRequestKinds(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, pcerrs.E(pcerrs.Invalid, "missing uri").Status())
	assert.Equal(t, http.StatusNotFound, pcerrs.E(pcerrs.NotFound, "no such category").Status())
}
