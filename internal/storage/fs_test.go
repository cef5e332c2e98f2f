package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGet(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	key, err := s.Put("attempts/a1/q1/u-scan.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	assert.Equal(t, "attempts/a1/q1/u-scan.pdf", key)

	rc, err := s.Get(key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(b))

	_, err = s.Get("attempts/a1/q1/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	for _, k := range []string{"", "../etc/passwd", "a/../../b", "/"} {
		_, err := s.Put(k, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, k)
	}
}

func TestAnswerFileKey(t *testing.T) {
	assert.Equal(t, "attempts/a1/q2/u1-my_essay_.docx", AnswerFileKey("a1", "q2", "u1", "my essay!.docx"))
	assert.Equal(t, "attempts/a1/q2/u1-passwd", AnswerFileKey("a1", "q2", "u1", "../../passwd"))
	assert.Equal(t, "attempts/a1/q2/u1-upload", AnswerFileKey("a1", "q2", "u1", ""))
}
