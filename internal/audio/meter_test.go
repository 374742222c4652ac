package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// sine generates one frame of a full-scale sine wave scaled by amp.
func sine(amp float64, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*float64(i)/float64(n)*8))
	}
	return out
}

func TestMeter_SilenceReadsZero(t *testing.T) {
	m := NewMeter(0, 0)
	if got := m.Process(make([]int16, 320)); got != 0 {
		t.Errorf("Process(silence) = %v, want 0", got)
	}
	if got := m.Process(nil); got != 0 {
		t.Errorf("Process(empty) = %v, want 0", got)
	}
}

func TestMeter_NoiseGate(t *testing.T) {
	m := NewMeter(0.05, 1.0)
	// A very quiet signal (RMS ~0.007) is below the gate.
	if got := m.Process(sine(0.01, 320)); got != 0 {
		t.Errorf("Process(sub-gate signal) = %v, want 0", got)
	}
	if got := m.Process(sine(0.8, 320)); got == 0 {
		t.Error("Process(loud signal) = 0, want > 0")
	}
}

func TestMeter_LouderReadsHigher(t *testing.T) {
	m := NewMeter(0, 1.0) // smoothing off
	quiet := m.Process(sine(0.2, 320))
	m.Reset()
	loud := m.Process(sine(0.9, 320))
	if loud <= quiet {
		t.Errorf("loud %v <= quiet %v", loud, quiet)
	}
	if loud > 1.0 {
		t.Errorf("level %v exceeds 1.0", loud)
	}
}

func TestMeter_SmoothingDampsSteps(t *testing.T) {
	m := NewMeter(0, 0.4)
	first := m.Process(sine(0.9, 320))
	m2 := NewMeter(0, 1.0)
	instant := m2.Process(sine(0.9, 320))
	if first >= instant {
		t.Errorf("smoothed first reading %v not below instant %v", first, instant)
	}
	// Repeated frames converge toward the instant reading.
	var last float64
	for i := 0; i < 20; i++ {
		last = m.Process(sine(0.9, 320))
	}
	if math.Abs(last-instant) > 0.01 {
		t.Errorf("converged level %v, want ~%v", last, instant)
	}
}

func TestDecodePCM16(t *testing.T) {
	raw := make([]byte, 6)
	binary.LittleEndian.PutUint16(raw[0:], uint16(1000))
	binary.LittleEndian.PutUint16(raw[2:], 0x8000) // -32768
	binary.LittleEndian.PutUint16(raw[4:], uint16(0xFFFF))

	got := DecodePCM16(raw)
	want := []int16{1000, -32768, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	if got := DecodePCM16(raw[:5]); len(got) != 2 {
		t.Errorf("odd-length decode returned %d samples, want 2", len(got))
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	pcm := make([]byte, 3200)
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != 16000 {
		t.Errorf("sample rate = %d, want 16000", sr)
	}
	if ds := binary.LittleEndian.Uint32(wav[40:44]); int(ds) != len(pcm) {
		t.Errorf("data size = %d, want %d", ds, len(pcm))
	}
}
