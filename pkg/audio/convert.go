package audio

import (
	"fmt"
	"time"
)

// Convert returns p re-encoded in target. Multi-channel input headed for a
// mono target is down-mixed before resampling so that only one channel is
// interpolated. If p already matches target it is returned unchanged.
func Convert(p PCM, target Format) PCM {
	if len(p.Data)%2 != 0 {
		p.Data = p.Data[:len(p.Data)-1]
	}
	if p.Format == target {
		return p
	}

	pcm := p.Data
	channels := p.Format.Channels
	if channels <= 0 {
		channels = 1
	}

	if target.Channels == 1 && channels > 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	if p.Format.SampleRate != target.SampleRate {
		pcm = Resample16(pcm, channels, p.Format.SampleRate, target.SampleRate)
	}
	if channels == 1 && target.Channels == 2 {
		pcm = MonoToStereo(pcm)
		channels = 2
	}
	return PCM{Data: pcm, Format: Format{SampleRate: target.SampleRate, Channels: channels}}
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// Downmix averages all channels of interleaved int16 PCM into one. The sum is
// kept in int32 so it cannot overflow before the division.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

// Resample16 converts interleaved int16 PCM with the given channel count from
// srcRate to dstRate using linear interpolation. Invalid rates return the
// input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// Chunks splits PCM into consecutive slices of at most d playback time each.
// The slices alias p.Data.
func Chunks(p PCM, d time.Duration) [][]byte {
	frameBytes := max(p.Format.Channels, 1) * 2
	size := int(int64(p.Format.BytesPerSecond()) * int64(d) / int64(time.Second))
	size -= size % frameBytes
	if size <= 0 {
		size = len(p.Data)
	}
	var out [][]byte
	for off := 0; off < len(p.Data); off += size {
		end := min(off+size, len(p.Data))
		out = append(out, p.Data[off:end])
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		putSample(b, i, s)
	}
	return b
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
