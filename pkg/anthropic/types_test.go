package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemDecodesStringForm(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"model": "claude",
		"system": "be terse",
		"messages": [{"role": "user", "content": "q"}]
	}`), &req))

	require.Len(t, req.System, 1)
	assert.Equal(t, BlockText, req.System[0].Type)
	assert.Equal(t, "be terse", req.System.Text())
}

func TestSystemDecodesBlockListForm(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"model": "claude",
		"system": [
			{"type": "text", "text": "be terse. "},
			{"type": "text", "text": "cite sources."}
		],
		"messages": [{"role": "user", "content": "q"}]
	}`), &req))

	require.Len(t, req.System, 2)
	assert.Equal(t, "be terse. cite sources.", req.System.Text())
}

func TestSystemRejectsOtherShapes(t *testing.T) {
	var s System
	assert.Error(t, json.Unmarshal([]byte(`{"text": "x"}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}

func TestContentDecodesStringForm(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role": "user", "content": "hello"}`), &msg))

	require.Len(t, msg.Content, 1)
	assert.Equal(t, BlockText, msg.Content[0].Type)
	assert.Equal(t, "hello", msg.Content[0].Text)
}
