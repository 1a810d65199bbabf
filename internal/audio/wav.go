package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, uint32(36)+dataSize)
	hdr.WriteString("WAVE")
	hdr.WriteString("fmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))
	binary.Write(&hdr, binary.LittleEndian, uint16(audioFormat))
	binary.Write(&hdr, binary.LittleEndian, uint16(numChannels))
	binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&hdr, binary.LittleEndian, byteRate)
	binary.Write(&hdr, binary.LittleEndian, blockAlign)
	binary.Write(&hdr, binary.LittleEndian, uint16(bitsPerSample))
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, dataSize)

	if _, err := out.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// Info describes a parsed WAV clip.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

// Duration reports the playable length of the clip.
func (i Info) Duration() time.Duration {
	bytesPerSec := i.SampleRate * i.Channels * i.BitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(float64(i.DataBytes) / float64(bytesPerSec) * float64(time.Second))
}

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// ParseWAVInfo validates a WAV byte stream and extracts format metadata.
// Only uncompressed PCM clips are accepted; greeting assets are produced
// offline and anything else indicates a broken asset.
func ParseWAVInfo(data []byte) (Info, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var info Info
	sawFmt := false
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return Info{}, fmt.Errorf("wav chunk %q overruns stream", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, errors.New("wav fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return Info{}, fmt.Errorf("unsupported wav format %d, want PCM", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			sawFmt = true
		case "data":
			info.DataBytes = size
		}
		// Chunks are word aligned.
		off = body + size + (size & 1)
	}

	if !sawFmt {
		return Info{}, errors.New("wav stream missing fmt chunk")
	}
	if info.DataBytes == 0 {
		return Info{}, errors.New("wav stream missing audio data")
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return Info{}, errors.New("wav stream has invalid format metadata")
	}
	return info, nil
}
