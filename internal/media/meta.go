package media

// VideoCodecMeta describes a video bitstream. A nil Size means the dimensions
// are not known yet; they are usually resolved from the first packet.
type VideoCodecMeta struct {
	Codec Codec
	Size  *Size
	Color ColorSpace
}

// AudioFormat describes interleaved PCM samples.
type AudioFormat struct {
	SampleRate     int
	Channels       int
	SampleSizeBits int
	BigEndian      bool
}

// FrameSize returns the byte size of one sample across all channels.
func (f AudioFormat) FrameSize() int {
	return f.Channels * ((f.SampleSizeBits + 7) / 8)
}

// AudioCodecMeta describes an audio bitstream. A nil Format means the sample
// layout is not known yet.
type AudioCodecMeta struct {
	Codec  Codec
	Format *AudioFormat
}

// AudioBuffer is a run of decoded interleaved samples.
type AudioBuffer struct {
	Data       []byte
	Format     AudioFormat
	NumSamples int
}
