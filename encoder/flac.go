package encoder

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

type FlacEncoder struct {
	buf         bytes.Buffer
	enc         *flac.Encoder
	totalFrames uint64
}

func NewFlac() (*FlacEncoder, error) {
	e := &FlacEncoder{}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
		Samples:   samples32,
		NSamples:  len(block),
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *FlacEncoder) Close() error {
	return e.enc.Close()
}

func (e *FlacEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

// FLAC encodes a whole utterance of little-endian PCM16 in BlockSize frames.
func FLAC(pcm []byte) ([]byte, error) {
	enc, err := NewFlac()
	if err != nil {
		return nil, err
	}
	samples := Int16s(pcm)
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}
