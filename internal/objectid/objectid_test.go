package objectid

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashParse(t *testing.T) {
	h := HashBytes([]byte("hello"))
	require.False(t, h.IsEmpty())

	parsed, err := ParseContentHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseContentHash("abc")
	assert.Error(t, err)
	_, err = ParseContentHash(strings.Repeat("zz", HashSize))
	assert.Error(t, err)

	assert.True(t, Empty.IsEmpty())
	assert.Equal(t, strings.Repeat("0", 64), Empty.String())
}

func TestHashReaderMatchesHashBytes(t *testing.T) {
	data := "some artifact bytes"
	h, err := HashReader(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte(data)), h)
}

func TestLocationNormalization(t *testing.T) {
	tests := []struct {
		in   Location
		want string
	}{
		{Content("out/a.bin"), "content:/out/a.bin"},
		{Content("/out//b/../a.bin"), "content:/out/a.bin"},
		{File(`src\a.txt`), "file:src/a.txt"},
		{File("/abs/./x.md"), "file:/abs/x.md"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}

	assert.Equal(t, Content("/x"), Content("x"))
	assert.NotEqual(t, Content("/x"), File("/x"))
}

func TestLocationParseAndJSONKeys(t *testing.T) {
	loc, err := ParseLocation("content:/out/a.bin")
	require.NoError(t, err)
	assert.Equal(t, Content("/out/a.bin"), loc)

	_, err = ParseLocation("bogus")
	assert.Error(t, err)
	_, err = ParseLocation("nope:/x")
	assert.Error(t, err)

	in := map[Location]ContentHash{Content("/a"): HashBytes([]byte("a"))}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out map[Location]ContentHash
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestDigestIsOrderSensitive(t *testing.T) {
	a := NewDigest()
	a.WriteString("x")
	a.WriteString("y")

	b := NewDigest()
	b.WriteString("y")
	b.WriteString("x")

	assert.NotEqual(t, a.Sum(), b.Sum())

	// Length prefixes keep "ab"+"c" distinct from "a"+"bc".
	c := NewDigest()
	c.WriteString("ab")
	c.WriteString("c")
	d := NewDigest()
	d.WriteString("a")
	d.WriteString("bc")
	assert.NotEqual(t, c.Sum(), d.Sum())
}
