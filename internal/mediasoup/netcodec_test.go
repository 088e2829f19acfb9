package mediasoup

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf, 0)

	require.NoError(t, fw.write([]byte("first")))
	require.NoError(t, fw.write([]byte{}))
	require.NoError(t, fw.write([]byte("third")))

	fr := newFrameReader(&buf, 0)

	byts, err := fr.read()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), byts)

	byts, err = fr.read()
	require.NoError(t, err)
	require.Len(t, byts, 0)

	byts, err = fr.read()
	require.NoError(t, err)
	require.Equal(t, []byte("third"), byts)

	_, err = fr.read()
	require.Equal(t, io.EOF, err)
}

func TestFrameReaderPartialReads(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	frame := make([]byte, 4+5)
	binary.LittleEndian.PutUint32(frame, 5)
	copy(frame[4:], "hello")

	// deliver one byte at a time
	go func() {
		for _, b := range frame {
			c1.Write([]byte{b}) //nolint:errcheck
		}
	}()

	fr := newFrameReader(c2, 0)
	byts, err := fr.read()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), byts)
}

func TestFrameReaderOversized(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf, 0)

	require.NoError(t, fw.write(bytes.Repeat([]byte{'x'}, 64)))
	require.NoError(t, fw.write([]byte("after")))

	// reader with a lower limit skips the first frame and resyncs
	fr := newFrameReader(&buf, 16)

	_, err := fr.read()
	require.Equal(t, errFrameTooBig, err)

	byts, err := fr.read()
	require.NoError(t, err)
	require.Equal(t, []byte("after"), byts)
}

func TestFrameWriterTooBig(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf, 16)

	err := fw.write(bytes.Repeat([]byte{'x'}, 17))
	var terr RequestTooBigError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, uint32(17), terr.Size)
	require.Zero(t, buf.Len())
}

func TestFrameWritePair(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf, 0)

	require.NoError(t, fw.writePair([]byte(`{"event":"rtp"}`), []byte{1, 2, 3}))

	fr := newFrameReader(&buf, 0)

	header, err := fr.read()
	require.NoError(t, err)
	require.Equal(t, []byte(`{"event":"rtp"}`), header)

	payload, err := fr.read()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, payload)
}
