package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const WAVHeaderSize = 44

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WAV wraps raw little-endian PCM16 mono audio at SampleRate in a RIFF container.
func WAV(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm length %d is not a whole number of samples", len(pcm))
	}
	dataSize := uint32(len(pcm))
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      BytesPerSec,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("writing wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
