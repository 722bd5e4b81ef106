package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcleaner/internal/cleaner"
	"linkcleaner/internal/config"
	"linkcleaner/internal/coordinator"
	"linkcleaner/internal/highlight"
)

func TestReadText(t *testing.T) {
	text, err := readText([]string{"a", "b"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "a b", text)

	text, err = readText(nil, strings.NewReader("from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin\n", text)

	text, err = readText([]string{"-"}, strings.NewReader("dash"))
	require.NoError(t, err)
	assert.Equal(t, "dash", text)
}

func TestRenderTerminal(t *testing.T) {
	doc := highlight.Align("go https://x.com/?si=1 now", "go https://x.com/ now")

	assert.Equal(t, "go https://x.com/[-?si=1-] now", renderTerminal(doc, palette{}))

	colored := renderTerminal(doc, palette{Reset: "<r>", Red: "<red>", Strike: "<s>"})
	assert.Equal(t, "go https://x.com/<red><s>?si=1<r> now", colored)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "äöü…", truncate("äöüßxyz", 4))
}

func TestNewCleanerUsesConfiguredParams(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Monitor.ExtraParams = []string{"ref_src"}
	cfg.Monitor.ExtraPrefixes = []string{"pk_"}

	got := newCleaner(cfg).Clean("https://x.com/?ref_src=tw&pk_campaign=a&id=1")
	assert.Equal(t, "https://x.com/?id=1", got)
}

func TestRunLivePrintsFinalResult(t *testing.T) {
	cfg := config.DefaultConfig()
	in := strings.NewReader("first https://x.com/?utm_source=a\nlast https://youtu.be/abc?si=xyz\n")
	var out bytes.Buffer

	err := runLive(context.Background(), cfg, coordinator.Deps{Sanitizer: cleaner.New()}, in, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "last https://youtu.be/abc", lines[len(lines)-1])
	assert.NotContains(t, out.String(), "utm_source")
}

func TestRunLiveEmptyInput(t *testing.T) {
	var out bytes.Buffer
	err := runLive(context.Background(), config.DefaultConfig(),
		coordinator.Deps{Sanitizer: cleaner.New()}, strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "linkcleaner-test", Version: "0.0.1"}
	srv := mcp.NewServer(impl, nil)
	registerTools(srv, cleaner.New())

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NoError(t, result.GetError())
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestMCPCleanText(t *testing.T) {
	session := mcpSession(t)
	got := callTool(t, session, "clean_text", map[string]any{
		"text": "Video: https://youtu.be/IPPTgd2cdvs?si=xe9oYk8nfQ1HxSbb",
	})
	assert.Equal(t, "Video: https://youtu.be/IPPTgd2cdvs", got)
}

func TestMCPCleanTextReport(t *testing.T) {
	session := mcpSession(t)
	got := callTool(t, session, "clean_text_report", map[string]any{
		"text": "a https://x.com/?utm_source=1&utm_medium=2 b https://y.com/?id=3",
	})

	var rep cleaner.Report
	require.NoError(t, json.Unmarshal([]byte(got), &rep))
	assert.Equal(t, "a https://x.com/ b https://y.com/?id=3", rep.Output)
	assert.Equal(t, 2, rep.URLsFound)
	assert.Equal(t, 1, rep.URLsModified)
	assert.Equal(t, 2, rep.ParamsRemoved)
}

func TestMCPListsTools(t *testing.T) {
	session := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"clean_text", "clean_text_report"}, names)
}
