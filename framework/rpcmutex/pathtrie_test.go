package rpcmutex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathTrie_InsertAndLookup(t *testing.T) {
	trie := NewPathTrie()
	node := newHandlerNode()

	require.NoError(t, trie.Insert("/widgets/42", node))
	assert.Same(t, node, trie.Lookup("/widgets/42"))
}

func TestPathTrie_LookupMissReturnsNil(t *testing.T) {
	trie := NewPathTrie()
	require.NoError(t, trie.Insert("/widgets/42", newHandlerNode()))

	assert.Nil(t, trie.Lookup("/widgets/43"))
	assert.Nil(t, trie.Lookup("/widgets"))
	assert.Nil(t, trie.Lookup("/widgets/42/extra"))
}

func TestPathTrie_DuplicateRouteRejected(t *testing.T) {
	trie := NewPathTrie()
	require.NoError(t, trie.Insert("/a/b", newHandlerNode()))

	err := trie.Insert("/a/b", newHandlerNode())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestPathTrie_EmptySegmentsSkipped(t *testing.T) {
	trie := NewPathTrie()
	node := newHandlerNode()
	require.NoError(t, trie.Insert("//a//b/", node))

	assert.Same(t, node, trie.Lookup("/a/b"))
	assert.Same(t, node, trie.Lookup("a/b"))
}

func TestPathTrie_SegmentOrderMatters(t *testing.T) {
	trie := NewPathTrie()
	forward := newHandlerNode()
	require.NoError(t, trie.Insert("/a/b", forward))

	// A trie storing "/a/b" must not also answer for "/b/a": segment
	// comparison walks left to right only.
	assert.Nil(t, trie.Lookup("/b/a"))
}

func TestHandlerNode_HandleIsCaseInsensitive(t *testing.T) {
	node := newHandlerNode()
	called := false
	node.Handle("get", func(req *Request, resp *Response) { called = true })

	handlers := node.Handlers("GET")
	require.Len(t, handlers, 1)
	handlers[0](nil, nil)
	assert.True(t, called)
}

func TestHandlerNode_MutexSetForLazilyCreatesOnce(t *testing.T) {
	node := newHandlerNode()
	first := node.MutexSetFor()
	second := node.MutexSetFor()
	assert.Same(t, first, second)
}
