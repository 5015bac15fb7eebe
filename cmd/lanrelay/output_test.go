package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanrelay/internal/core/domain"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "1023 B", formatSize(1023))
	assert.Equal(t, "1.0 KiB", formatSize(1024))
	assert.Equal(t, "1.5 MiB", formatSize(3<<19))
	assert.Equal(t, "2.0 GiB", formatSize(2<<30))
}

func TestRenderParticipants(t *testing.T) {
	var buf bytes.Buffer
	renderParticipants(&buf, []domain.Participant{
		{ID: "a1", Name: "alice", Audio: true},
		{ID: "b2", Name: "bob"},
	}, "b2")

	out := buf.String()
	assert.Contains(t, out, "Participants (2)")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob (you)")
}

func TestParseMediaType(t *testing.T) {
	mt, err := parseMediaType("screen")
	require.NoError(t, err)
	assert.Equal(t, domain.MediaScreen, mt)

	_, err = parseMediaType("smell")
	assert.Error(t, err)
}

func TestHandleLine_Validation(t *testing.T) {
	_, err := handleLine(context.Background(), nil, "/")
	assert.Error(t, err)

	_, err = handleLine(context.Background(), nil, "/video maybe")
	assert.Error(t, err)

	_, err = handleLine(context.Background(), nil, "/send")
	assert.Error(t, err)

	quit, err := handleLine(context.Background(), nil, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)

	quit, err = handleLine(context.Background(), nil, "   ")
	require.NoError(t, err)
	assert.False(t, quit)
}
