package mediasoup

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// DefaultMaxMessageSize is the default maximum size of a channel frame.
const DefaultMaxMessageSize = 4 * 1024 * 1024

// errFrameTooBig is returned by frameReader when an incoming frame
// exceeds the maximum size. The frame is skipped and reading can go on.
var errFrameTooBig = errors.New("frame exceeds maximum size")

// frameReader decodes length-prefixed frames: a little-endian uint32
// length followed by that many payload bytes. It tolerates frames
// split across reads and multiple frames per read.
type frameReader struct {
	r       *bufio.Reader
	maxSize uint32
}

func newFrameReader(r io.Reader, maxSize uint32) *frameReader {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &frameReader{
		r:       bufio.NewReader(r),
		maxSize: maxSize,
	}
}

func (fr *frameReader) read() ([]byte, error) {
	var header [4]byte
	_, err := io.ReadFull(fr.r, header[:])
	if err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])

	if length > fr.maxSize {
		// skip the oversized payload, keep the stream in sync
		_, err = fr.r.Discard(int(length))
		if err != nil {
			return nil, err
		}
		return nil, errFrameTooBig
	}

	payload := make([]byte, length)
	_, err = io.ReadFull(fr.r, payload)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// frameWriter encodes length-prefixed frames. Writes of whole frames
// are serialized by a mutex.
type frameWriter struct {
	w       io.Writer
	maxSize uint32
	mutex   sync.Mutex
}

func newFrameWriter(w io.Writer, maxSize uint32) *frameWriter {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &frameWriter{
		w:       w,
		maxSize: maxSize,
	}
}

func (fw *frameWriter) write(payload []byte) error {
	if uint32(len(payload)) > fw.maxSize {
		return RequestTooBigError{Size: uint32(len(payload)), Max: fw.maxSize}
	}

	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	_, err := fw.w.Write(buf)
	return err
}

// writePair writes two frames back to back under a single lock, so
// that header and payload of a payload channel unit stay adjacent.
func (fw *frameWriter) writePair(header []byte, payload []byte) error {
	if uint32(len(header)) > fw.maxSize {
		return RequestTooBigError{Size: uint32(len(header)), Max: fw.maxSize}
	}
	if uint32(len(payload)) > fw.maxSize {
		return RequestTooBigError{Size: uint32(len(payload)), Max: fw.maxSize}
	}

	buf := make([]byte, 8+len(header)+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(header)))
	n := 4 + copy(buf[4:], header)
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(payload)))
	copy(buf[n+4:], payload)

	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	_, err := fw.w.Write(buf)
	return err
}
