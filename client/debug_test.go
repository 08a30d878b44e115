package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/bcp-driver/transport/mock"
)

func TestGetDebugInfo(t *testing.T) {
	conn := connectMock(t, mock.NewMockDriver(), 2)
	ctx := context.Background()

	info := conn.GetDebugInfo()
	assert.Equal(t, "CONNECTED", info["state"])
	assert.Equal(t, "mock", info["driver"])
	assert.NotContains(t, info, "session")

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a", "b")))

	info = conn.GetDebugInfo()
	session, ok := info["session"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "t", session["table"])
	assert.Equal(t, 2, session["width"])
	assert.Equal(t, 1, session["sinceCommit"])

	transportInfo, ok := info["transport"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(1), transportInfo["rowsSent"])
}

func TestDumpDebugInfoJSON(t *testing.T) {
	conn := connectMock(t, mock.NewMockDriver(), 0)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(conn.DumpDebugInfoJSON()), &decoded))
	assert.Equal(t, Version, decoded["version"])
	assert.Equal(t, conn.ID(), decoded["connID"])
}
