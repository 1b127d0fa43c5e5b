package permission

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRequestFile(t *testing.T) {
	session := "0198ad9f-1111-2222-3333-444455556666"

	id, ok := matchRequestFile("request-"+session+"-req-7.json", KindTool, session)
	require.True(t, ok)
	assert.Equal(t, "req-7", id)

	// Other sessions' files do not match.
	_, ok = matchRequestFile("request-other-session-req-7.json", KindTool, session)
	assert.False(t, ok)

	// Response files never match, question-response in particular shares
	// the question- prefix.
	_, ok = matchRequestFile("response-"+session+"-req-7.json", KindTool, session)
	assert.False(t, ok)
	_, ok = matchRequestFile("question-response-"+session+"-q1.json", KindQuestion, session)
	assert.False(t, ok)

	id, ok = matchRequestFile("question-"+session+"-q1.json", KindQuestion, session)
	require.True(t, ok)
	assert.Equal(t, "q1", id)

	id, ok = matchRequestFile("plan-"+session+"-p1.json", KindPlan, session)
	require.True(t, ok)
	assert.Equal(t, "p1", id)

	_, ok = matchRequestFile("request-"+session+"-.json", KindTool, session)
	assert.False(t, ok)
	_, ok = matchRequestFile("request-"+session+"-x.txt", KindTool, session)
	assert.False(t, ok)
}

func TestWriteResponse(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, writeResponse(dir, KindTool, "sess", "req1", ToolResponse{Allow: true}))

	data, err := os.ReadFile(filepath.Join(dir, "response-sess-req1.json"))
	require.NoError(t, err)
	var resp ToolResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.Allow)

	// No temp file left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResponseFileNames(t *testing.T) {
	assert.Equal(t, "response-s-r.json", responseFileName(KindTool, "s", "r"))
	assert.Equal(t, "question-response-s-r.json", responseFileName(KindQuestion, "s", "r"))
	assert.Equal(t, "plan-response-s-r.json", responseFileName(KindPlan, "s", "r"))
	assert.Equal(t, "request-s-r.json", requestFileName(KindTool, "s", "r"))
}
