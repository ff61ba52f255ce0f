package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/q-controller/imgrelay/src/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectMCP(t *testing.T, tl *Tool) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	session, err := tl.MCPServer("test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "imgrelay-test", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callProcessImage(t *testing.T, cs *mcp.ClientSession, args any) (*mcp.CallToolResult, Response) {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: Name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return result, resp
}

func TestMCPListTools(t *testing.T) {
	tl := New(runnerFunc(func(context.Context, string, transform.Spec) (string, error) {
		return "abc", nil
	}), "http://localhost:3001", nil)
	cs := connectMCP(t, tl)

	tools, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, Name, tools.Tools[0].Name)
	assert.Equal(t, Describe().Description, tools.Tools[0].Description)

	schema, err := json.Marshal(tools.Tools[0].InputSchema)
	require.NoError(t, err)
	assert.JSONEq(t, inputSchema, string(schema))
}

func TestMCPCallTool(t *testing.T) {
	var gotURL string
	tl := New(runnerFunc(func(_ context.Context, sourceURL string, _ transform.Spec) (string, error) {
		gotURL = sourceURL
		return "abc", nil
	}), "http://localhost:3001", nil)
	cs := connectMCP(t, tl)

	result, resp := callProcessImage(t, cs, map[string]any{
		"imageUrl": "https://example.com/a.png",
		"specs":    map[string]any{"conversion": map[string]any{"format": "png"}},
	})
	assert.False(t, result.IsError)
	assert.Equal(t, Response{Success: true, ProcessedImageURL: "http://localhost:3001/artifact/abc"}, resp)
	assert.Equal(t, "https://example.com/a.png", gotURL)
}

func TestMCPCallToolFailures(t *testing.T) {
	tl := New(runnerFunc(func(context.Context, string, transform.Spec) (string, error) {
		t.Error("runner must not be reached")
		return "", nil
	}), "http://localhost:3001", nil)
	cs := connectMCP(t, tl)

	result, resp := callProcessImage(t, cs, map[string]any{"imageUrl": "https://example.com/a.png"})
	assert.True(t, result.IsError)
	assert.False(t, resp.Success)
	assert.Equal(t, msgMissingParameters, resp.Error)

	result, resp = callProcessImage(t, cs, map[string]any{"imageUrl": 42})
	assert.True(t, result.IsError)
	assert.Contains(t, resp.Error, "Invalid arguments")

	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "resize_image"})
	require.Error(t, err)
}

func TestMCPEndToEnd(t *testing.T) {
	s := newStack(t)
	src := imageSource(t)
	cs := connectMCP(t, s.tool)

	result, resp := callProcessImage(t, cs, map[string]any{
		"imageUrl": src.URL + "/cat.png",
		"specs": map[string]any{
			"resize":     map[string]any{"width": 100, "fit": "contain"},
			"conversion": map[string]any{"format": "webp"},
		},
	})
	require.False(t, result.IsError, resp.Error)
	require.True(t, resp.Success)

	got, err := http.Get(resp.ProcessedImageURL)
	require.NoError(t, err)
	defer got.Body.Close()
	_, _ = io.Copy(io.Discard, got.Body)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/webp", got.Header.Get("Content-Type"))
}

func TestServeMCPStopsOnCancel(t *testing.T) {
	tl := New(runnerFunc(func(context.Context, string, transform.Spec) (string, error) {
		return "abc", nil
	}), "http://localhost:3001", nil)
	serverTransport, _ := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, tl.ServeMCP(ctx, serverTransport, "test"))
}
