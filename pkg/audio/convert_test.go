package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func assertSamples(t *testing.T, got []byte, want []int16) {
	t.Helper()
	g := bytesToSamples(got)
	if len(g) != len(want) {
		t.Fatalf("length mismatch: got %d samples %v, want %d", len(g), g, len(want))
	}
	for i := range want {
		if g[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, g[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	stereo := audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300}))
	assertSamples(t, stereo, []int16{100, 100, 200, 200, 300, 300})
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"no overflow", []int16{32767, 32767}, 2, []int16{32767}},
		{"three channels", []int16{30, 60, 90}, 3, []int16{60}},
		{"mono passthrough", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assertSamples(t, audio.Downmix(samplesToBytes(tt.in), tt.channels), tt.want)
		})
	}
}

func TestResample16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		src, dst int
		want     []int16
	}{
		{"same rate", []int16{1, 2, 3}, 1, 16000, 16000, []int16{1, 2, 3}},
		{"downsample mono", []int16{0, 100, 200, 300}, 1, 16000, 8000, []int16{0, 200}},
		{"upsample mono", []int16{0, 100}, 1, 8000, 16000, []int16{0, 50, 100, 100}},
		{"upsample stereo", []int16{0, 1000, 100, 2000}, 2, 8000, 16000, []int16{0, 1000, 50, 1500, 100, 2000, 100, 2000}},
		{"zero source rate", []int16{5, 6}, 1, 0, 16000, []int16{5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Resample16(samplesToBytes(tt.in), tt.channels, tt.src, tt.dst)
			assertSamples(t, got, tt.want)
		})
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	in := audio.PCM{
		Data:   samplesToBytes([]int16{100, 300, 200, 400, 300, 500, 400, 600}),
		Format: audio.Format{SampleRate: 32000, Channels: 2},
	}
	got := audio.Convert(in, audio.SpeechFormat)
	if got.Format != audio.SpeechFormat {
		t.Fatalf("format = %v, want %v", got.Format, audio.SpeechFormat)
	}
	// Downmix: 200, 300, 400, 500; then halve the rate.
	assertSamples(t, got.Data, []int16{200, 400})
}

func TestConvert_NoOpAndOddBytes(t *testing.T) {
	t.Parallel()

	data := append(samplesToBytes([]int16{7, 8}), 0xFF)
	got := audio.Convert(audio.PCM{Data: data, Format: audio.SpeechFormat}, audio.SpeechFormat)
	assertSamples(t, got.Data, []int16{7, 8})
}

func TestConvert_MonoToStereo(t *testing.T) {
	t.Parallel()

	in := audio.PCM{Data: samplesToBytes([]int16{1, 2}), Format: audio.Format{SampleRate: 48000, Channels: 1}}
	got := audio.Convert(in, audio.Format{SampleRate: 48000, Channels: 2})
	if got.Format.Channels != 2 {
		t.Fatalf("channels = %d, want 2", got.Format.Channels)
	}
	assertSamples(t, got.Data, []int16{1, 1, 2, 2})
}

func TestChunks(t *testing.T) {
	t.Parallel()

	p := audio.PCM{Data: make([]byte, 1500), Format: audio.SpeechFormat}
	chunks := audio.Chunks(p, 20*time.Millisecond)
	want := []int{640, 640, 220}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, n := range want {
		if len(chunks[i]) != n {
			t.Errorf("chunk %d: %d bytes, want %d", i, len(chunks[i]), n)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	if d := audio.SpeechFormat.Duration(32000); d != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", d)
	}
	if s := (audio.Format{SampleRate: 48000, Channels: 2}).String(); s != "48000Hz stereo" {
		t.Errorf("String() = %q", s)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()

	in := audio.PCM{Data: samplesToBytes([]int16{-5, 0, 5, 32767}), Format: audio.Format{SampleRate: 22050, Channels: 2}}
	wav := audio.EncodeWAV(in)
	if len(wav) != 44+len(in.Data) {
		t.Fatalf("wav length = %d", len(wav))
	}
	out, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.Format != in.Format {
		t.Errorf("format = %v, want %v", out.Format, in.Format)
	}
	assertSamples(t, out.Data, []int16{-5, 0, 5, 32767})
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(audio.PCM{Data: samplesToBytes([]int16{9, 10}), Format: audio.SpeechFormat})
	// Insert a LIST chunk with an odd size (padded) between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	out, err := audio.DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	assertSamples(t, out.Data, []int16{9, 10})
}

func TestDecodeWAV_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"not riff": []byte("hello world, this is not audio"),
		"no data":  audio.EncodeWAV(audio.PCM{Format: audio.SpeechFormat})[:36],
	}
	for name, data := range tests {
		if _, err := audio.DecodeWAV(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	t.Parallel()

	tests := map[string]audio.Encoding{
		"":                       audio.EncodingWAV,
		"audio/wav":              audio.EncodingWAV,
		"audio/L16; rate=16000":  audio.EncodingPCM16,
		"OPUS":                   audio.EncodingOpus,
		"audio/webm;codecs=opus": audio.EncodingWebM,
	}
	for in, want := range tests {
		got, err := audio.ParseEncoding(in)
		if err != nil || got != want {
			t.Errorf("ParseEncoding(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := audio.ParseEncoding("audio/mpeg"); err == nil {
		t.Error("expected error for mp3")
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	got, err := audio.DecodeTo(audio.Sample{
		Encoding: audio.EncodingPCM16,
		Data:     pcm,
		Format:   audio.Format{SampleRate: 16000, Channels: 2},
	}, audio.SpeechFormat)
	if err != nil {
		t.Fatalf("DecodeTo: %v", err)
	}
	assertSamples(t, got.Data, []int16{1, 3})

	if _, err := audio.Decode(audio.Sample{Encoding: audio.EncodingPCM16, Data: pcm}); err == nil {
		t.Error("expected error for pcm16 without format")
	}
	if _, err := audio.Decode(audio.Sample{Encoding: audio.EncodingWAV}); err == nil {
		t.Error("expected error for empty sample")
	}
	if _, err := audio.Decode(audio.Sample{Encoding: audio.EncodingWebM, Data: []byte{0x1a}}); !errors.Is(err, audio.ErrNotDecodable) {
		t.Errorf("webm decode err = %v, want ErrNotDecodable", err)
	}
	if audio.EncodingWebM.MIMEType() != "audio/webm" || audio.EncodingWAV.Ext() != ".wav" {
		t.Error("unexpected upload metadata")
	}
}

func TestOpusRoundTrip(t *testing.T) {
	t.Parallel()

	// 40 ms of a 440 Hz tone at 16 kHz mono: exactly two 20 ms frames.
	samples := make([]int16, 640)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	in := audio.PCM{Data: samplesToBytes(samples), Format: audio.SpeechFormat}

	packets, err := audio.EncodeOpus(in)
	if err != nil {
		t.Fatalf("EncodeOpus: %v", err)
	}
	out, err := audio.Decode(audio.Sample{Encoding: audio.EncodingOpus, Data: packets, Format: audio.SpeechFormat})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Data) != len(in.Data) {
		t.Fatalf("decoded %d bytes, want %d", len(out.Data), len(in.Data))
	}

	if _, err := audio.DecodeOpus([]byte{0x00, 0x10, 0x01}, audio.SpeechFormat); err == nil {
		t.Error("expected error for truncated packet")
	}
}

func TestFormatValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    audio.Format
		ok   bool
	}{
		{"speech", audio.SpeechFormat, true},
		{"8k mono", audio.Format{SampleRate: 8000, Channels: 1}, true},
		{"48k stereo", audio.Format{SampleRate: 48000, Channels: 2}, true},
		{"1 Hz", audio.Format{SampleRate: 1, Channels: 1}, false},
		{"96k", audio.Format{SampleRate: 96000, Channels: 1}, false},
		{"no channels", audio.Format{SampleRate: 16000}, false},
		{"surround", audio.Format{SampleRate: 16000, Channels: 6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.f.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, audio.ErrUnsupportedFormat) {
				t.Errorf("Validate() = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}

func TestDecodeTo_RejectsAmplifyingFormats(t *testing.T) {
	t.Parallel()

	slow := audio.Format{SampleRate: 1, Channels: 1}
	tests := map[string]audio.Sample{
		"pcm16 at 1 Hz": {Encoding: audio.EncodingPCM16, Data: make([]byte, 4096), Format: slow},
		"wav header at 1 Hz": {
			Encoding: audio.EncodingWAV,
			Data:     audio.EncodeWAV(audio.PCM{Data: make([]byte, 4096), Format: slow}),
		},
		"pcm16 with 5 channels": {Encoding: audio.EncodingPCM16, Data: make([]byte, 4096), Format: audio.Format{SampleRate: 16000, Channels: 5}},
	}
	for name, s := range tests {
		out, err := audio.DecodeTo(s, audio.SpeechFormat)
		if !errors.Is(err, audio.ErrUnsupportedFormat) {
			t.Errorf("%s: err = %v, want ErrUnsupportedFormat", name, err)
		}
		if len(out.Data) != 0 {
			t.Errorf("%s: decoded %d bytes, want none", name, len(out.Data))
		}
	}
}

func TestDecodeTo_CapsDuration(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: audio.MinSampleRate, Channels: 1}
	atCap := audio.Sample{Encoding: audio.EncodingPCM16, Data: make([]byte, f.MaxBytes()), Format: f}
	if _, err := audio.DecodeTo(atCap, audio.SpeechFormat); err != nil {
		t.Fatalf("recording of exactly %s: %v", audio.MaxDuration, err)
	}

	over := audio.Sample{Encoding: audio.EncodingPCM16, Data: make([]byte, f.MaxBytes()+f.BytesPerSecond()), Format: f}
	if _, err := audio.DecodeTo(over, audio.SpeechFormat); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("over-long recording: err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeWAV_RejectsBadHeaderFormat(t *testing.T) {
	t.Parallel()

	for _, f := range []audio.Format{{SampleRate: 1, Channels: 1}, {SampleRate: 16000, Channels: 8}} {
		wav := audio.EncodeWAV(audio.PCM{Data: make([]byte, 64), Format: f})
		if _, err := audio.DecodeWAV(wav); !errors.Is(err, audio.ErrUnsupportedFormat) {
			t.Errorf("DecodeWAV(%s) err = %v, want ErrUnsupportedFormat", f, err)
		}
	}
}
