package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

const wavHeaderSize = 44

// WavEncoder wraps PCM16 mono in a RIFF container. Whisper accepts
// WAV directly, and queued audio is persisted in this format so a
// replay needs no re-encoding step.
type WavEncoder struct {
	pcm         bytes.Buffer
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewWav() (*WavEncoder, error) {
	return &WavEncoder{}, nil
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range block {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		e.pcm.Write(b[:])
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WavEncoder) Close() error { return nil }

func (e *WavEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wrapWAV(e.pcm.Bytes(), SampleRate)
}

func (e *WavEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *WavEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WavEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}

// wrapWAV prefixes raw PCM16 mono with a 44-byte RIFF header.
func wrapWAV(pcm []byte, sampleRate int) []byte {
	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize-8+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*Channels*BitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:34], Channels*BitsPerSample/8) // block align
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// WriteWAVFile persists raw PCM16 mono to path as a WAV file.
func WriteWAVFile(path string, pcm []byte) error {
	return os.WriteFile(path, wrapWAV(pcm, SampleRate), 0644)
}

// ReadWAVFile loads a WAV file written by WriteWAVFile and returns
// its raw PCM payload and sample rate.
func ReadWAVFile(path string) (pcm []byte, sampleRate int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("wav file too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE file")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("unsupported wav format %d (want PCM)", format)
	}
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	if sampleRate <= 0 {
		return nil, 0, fmt.Errorf("corrupt wav header: sample rate %d", sampleRate)
	}
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	pcm = data[wavHeaderSize:]
	if int(dataSize) < len(pcm) {
		pcm = pcm[:dataSize]
	}
	return pcm, sampleRate, nil
}
