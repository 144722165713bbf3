package framing

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayloads() []map[string]interface{} {
	return []map[string]interface{}{
		{"type": "ping", "server_id": "gs-1"},
		{"type": "register", "server_id": "gs-2", "ip": "10.0.0.7", "port": float64(9600), "max_rooms": float64(50)},
		{"type": "status_update", "load": 2.5, "status": "active"},
		{"type": "chat", "msg": "héllo ✓ 世界", "nested": map[string]interface{}{"a": []interface{}{float64(1), "b", nil, true}}},
	}
}

// TestEncodeHeader checks the 4-byte big-endian length prefix.
func TestEncodeHeader(t *testing.T) {
	frame, err := Encode(map[string]string{"type": "ping"})
	require.NoError(t, err)

	n := binary.BigEndian.Uint32(frame[:HeaderSize])
	assert.Equal(t, len(frame)-HeaderSize, int(n))
	assert.JSONEq(t, `{"type":"ping"}`, string(frame[HeaderSize:]))
}

// TestReaderRoundTrip decodes what Encode produced, through a reader that
// returns one byte per Read call.
func TestReaderRoundTrip(t *testing.T) {
	var stream bytes.Buffer
	for _, p := range samplePayloads() {
		require.NoError(t, WriteFrame(&stream, p))
	}

	r := NewReader(iotest.OneByteReader(&stream))
	for _, want := range samplePayloads() {
		var got map[string]interface{}
		require.NoError(t, r.ReadMessage(&got))
		assert.Equal(t, want, got)
	}
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

// TestDecoderArbitraryChunks feeds an encoded stream split at random
// boundaries and expects every payload back unchanged.
func TestDecoderArbitraryChunks(t *testing.T) {
	var stream []byte
	for _, p := range samplePayloads() {
		frame, err := Encode(p)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		var d Decoder
		var got []map[string]interface{}
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(7)
			if n > len(rest) {
				n = len(rest)
			}
			d.Feed(rest[:n])
			rest = rest[n:]
			for {
				body, ok, err := d.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				var m map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &m))
				got = append(got, m)
			}
		}
		assert.Equal(t, samplePayloads(), got, "trial %d", trial)
		assert.Zero(t, d.Buffered())
	}
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	var d Decoder
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)
	d.Feed(header)

	_, ok, err := d.Next()
	assert.False(t, ok)
	assert.True(t, IsFramingError(err))
}

func TestReaderRejectsInvalidJSON(t *testing.T) {
	frame, err := EncodeRaw([]byte("{not json"))
	require.NoError(t, err)

	_, err = NewReader(bytes.NewReader(frame)).ReadFrame()
	assert.True(t, IsFramingError(err))
}

func TestReaderTruncatedBody(t *testing.T) {
	frame, err := Encode(map[string]string{"type": "ping"})
	require.NoError(t, err)

	_, err = NewReader(bytes.NewReader(frame[:len(frame)-2])).ReadFrame()
	assert.True(t, IsFramingError(err))
}

func TestReaderZeroLength(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0, 0, 0, 0})).ReadFrame()
	assert.True(t, IsFramingError(err))
}
