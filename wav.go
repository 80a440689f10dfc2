package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodeWAV serializes int16 mono PCM into a standard RIFF/WAVE container
// (16-bit little-endian PCM, one fmt chunk, one data chunk). This is the
// only audio format handed to downstream transcription backends.
func encodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize)) //nolint:errcheck
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint16(1))                 //nolint:errcheck — PCM
	binary.Write(buf, binary.LittleEndian, uint16(audioChannels))     //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))        //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))      //nolint:errcheck — byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))                 //nolint:errcheck — block align
	binary.Write(buf, binary.LittleEndian, uint16(16))                //nolint:errcheck — bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize)) //nolint:errcheck
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s) //nolint:errcheck
	}
	return buf.Bytes()
}

// wavInfo describes a parsed WAV container.
type wavInfo struct {
	Channels   int
	SampleRate int
	BitDepth   int
	Frames     int
	Samples    []int16
}

// decodeWAV parses a mono 16-bit PCM WAV container. Used by the local
// whisper backend (which wants raw samples back) and by tests.
func decodeWAV(data []byte) (*wavInfo, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: not a RIFF/WAVE container")
	}

	// Walk chunks; fmt must precede data.
	var info wavInfo
	sawFmt := false
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, fmt.Errorf("wav: truncated %q chunk", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too small (%d bytes)", size)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("wav: unsupported format %d (want PCM)", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			sawFmt = true
		case "data":
			if !sawFmt {
				return nil, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			if info.BitDepth != 16 {
				return nil, fmt.Errorf("wav: unsupported bit depth %d (want 16)", info.BitDepth)
			}
			n := size / 2
			info.Samples = make([]int16, n)
			for i := 0; i < n; i++ {
				info.Samples[i] = int16(binary.LittleEndian.Uint16(data[body+i*2 : body+i*2+2]))
			}
			info.Frames = n / info.Channels
			return &info, nil
		}
		// Chunks are word-aligned.
		off = body + size + (size & 1)
	}
	return nil, fmt.Errorf("wav: no data chunk")
}

// pcmToFloat32 converts int16 samples to float32 normalized to [-1, 1],
// the representation whisper.cpp and Silero both consume.
func pcmToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
