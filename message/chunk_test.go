package message

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedReaderWithTrailer(t *testing.T) {
	raw := "4\r\nWiki\r\n5\r\npedia\r\n0\r\nX-Trailer: done\r\n\r\n"
	cr := newChunkedReader(bufio.NewReader(strings.NewReader(raw)))

	buf := make([]byte, 0, 16)
	tmp := make([]byte, 4)
	for {
		n, err := cr.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	assert.Equal(t, "Wikipedia", string(buf))
	assert.Equal(t, "done", cr.trailer.Get("X-Trailer"))
}

func TestParseHexUint(t *testing.T) {
	n, err := parseHexUint([]byte("1a"))
	require.NoError(t, err)
	assert.EqualValues(t, 26, n)

	_, err = parseHexUint([]byte("zz"))
	require.Error(t, err)
}

func TestRemoveChunkExtension(t *testing.T) {
	assert.Equal(t, []byte("0"), removeChunkExtension([]byte("0;token=val")))
	assert.Equal(t, []byte("5"), removeChunkExtension([]byte("5")))
}

func TestChunkedWriterFraming(t *testing.T) {
	var buf strings.Builder
	cw := newChunkedWriter(&buf)
	_, err := cw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, cw.Close())
	assert.Equal(t, "5\r\nhello\r\n0\r\n\r\n", buf.String())
}
