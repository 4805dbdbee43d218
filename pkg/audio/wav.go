package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// EncodeWAV wraps PCM16 data in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(p PCM) []byte {
	channels := max(p.Format.Channels, 1)
	byteRate := p.Format.SampleRate * channels * 2
	dataSize := len(p.Data)

	buf := make([]byte, wavHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(p.Format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], p.Data)
	return buf
}

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE file. Chunks other than
// "fmt " and "data" are skipped. A truncated data chunk is accepted and
// returns whatever bytes are present, which is what streaming recorders
// that never patch the header produce.
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return PCM{}, errors.New("audio: wav fmt chunk too short")
			}
			if tag := binary.LittleEndian.Uint16(data[body : body+2]); tag != 1 && tag != 0xFFFE {
				return PCM{}, fmt.Errorf("audio: unsupported wav format tag %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != 16 {
				return PCM{}, fmt.Errorf("audio: unsupported wav bit depth %d", bits)
			}
			if err := f.Validate(); err != nil {
				return PCM{}, fmt.Errorf("audio: wav header: %w", err)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, errors.New("audio: wav data chunk before fmt chunk")
			}
			end := body + size
			if size == 0 || end > len(data) || end < body {
				end = len(data)
			}
			pcm := data[body:end]
			if len(pcm)%2 != 0 {
				pcm = pcm[:len(pcm)-1]
			}
			return PCM{Data: pcm, Format: f}, nil
		}

		off = body + size + size%2
	}
	return PCM{}, errors.New("audio: wav has no data chunk")
}
