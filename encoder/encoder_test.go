package encoder

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func pcmBlock(n int) []int16 {
	block := make([]int16, n)
	for i := range block {
		block[i] = int16(i % 1000)
	}
	return block
}

func TestWavEncoderRoundTrip(t *testing.T) {
	enc, err := NewWav()
	if err != nil {
		t.Fatal(err)
	}
	block := pcmBlock(BlockSize)
	if err := enc.EncodeBlock(block); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	data := enc.Bytes()
	if len(data) != wavHeaderSize+BlockSize*2 {
		t.Fatalf("Bytes() = %d bytes, want %d", len(data), wavHeaderSize+BlockSize*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE header")
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != SampleRate {
		t.Errorf("sample rate = %d, want %d", got, SampleRate)
	}
	if enc.TotalFrames() != BlockSize {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), BlockSize)
	}

	// First sample survives the header.
	if got := int16(binary.LittleEndian.Uint16(data[wavHeaderSize+2:])); got != 1 {
		t.Errorf("second sample = %d, want 1", got)
	}
}

func TestWAVFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue_test.wav")

	pcm := make([]byte, 2048)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	if err := WriteWAVFile(path, pcm); err != nil {
		t.Fatal(err)
	}

	got, rate, err := ReadWAVFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if rate != SampleRate {
		t.Errorf("sample rate = %d, want %d", rate, SampleRate)
	}
	if len(got) != len(pcm) {
		t.Fatalf("pcm length = %d, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("pcm[%d] = %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestReadWAVFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := WriteWAVFile(path, nil); err != nil {
		t.Fatal(err)
	}

	if _, _, err := ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadWAVFileRejectsZeroSampleRate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "truncated.wav")
	if err := WriteWAVFile(path, make([]byte, 512)); err != nil {
		t.Fatal(err)
	}

	// Corrupt the header: zero out the sample rate field.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(data[24:28], 0)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := ReadWAVFile(path); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestFlacEncoderProducesOutput(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeBlock(pcmBlock(BlockSize)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	data := enc.Bytes()
	if len(data) == 0 {
		t.Fatal("no flac output")
	}
	if string(data[0:4]) != "fLaC" {
		t.Errorf("missing fLaC marker, got %q", data[0:4])
	}
	if enc.TotalFrames() != BlockSize {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), BlockSize)
	}
}
