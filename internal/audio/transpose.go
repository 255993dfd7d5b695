package audio

// Transpose converts planar 16-bit PCM (channel 0's samples in full, then
// channel 1's, ...) into interleaved PCM (one sample per channel, repeating).
// channels must be >= 1; pcm's length must be an exact multiple of
// channels*2. Malformed input (length not a multiple of the frame size) is
// returned unchanged rather than panicking.
func Transpose(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	if len(pcm)%frameBytes != 0 {
		return pcm
	}
	frames := len(pcm) / frameBytes
	samplesPerChannel := frames

	out := make([]byte, len(pcm))
	for ch := 0; ch < channels; ch++ {
		planarBase := ch * samplesPerChannel * 2
		for frame := 0; frame < frames; frame++ {
			src := planarBase + frame*2
			dst := frame*frameBytes + ch*2
			out[dst] = pcm[src]
			out[dst+1] = pcm[src+1]
		}
	}
	return out
}
