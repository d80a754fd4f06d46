package signal

// Downmix16 averages interleaved little-endian int16 PCM with the given
// channel count into mono. One or fewer channels returns pcm unchanged; a
// trailing partial frame is dropped.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := i*frameBytes + c*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		// The mean of int16 values always fits in int16.
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}
