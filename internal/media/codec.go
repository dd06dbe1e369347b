package media

// Codec identifies a compressed bitstream format.
type Codec int

// Known codecs. Only a subset is decodable; see codec.Supported.
const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
	CodecMPEG2
	CodecProRes
	CodecVP8
	CodecVP9
	CodecAV1
	CodecJPEG
	CodecPNG
	CodecRAW
	CodecAAC
	CodecPCM
	CodecMP3
	CodecAC3
	CodecOpus
)

var codecNames = map[Codec]string{
	CodecUnknown: "unknown",
	CodecH264:    "h264",
	CodecH265:    "h265",
	CodecMPEG2:   "mpeg2",
	CodecProRes:  "prores",
	CodecVP8:     "vp8",
	CodecVP9:     "vp9",
	CodecAV1:     "av1",
	CodecJPEG:    "jpeg",
	CodecPNG:     "png",
	CodecRAW:     "raw",
	CodecAAC:     "aac",
	CodecPCM:     "pcm",
	CodecMP3:     "mp3",
	CodecAC3:     "ac3",
	CodecOpus:    "opus",
}

func (c Codec) String() string {
	if s, ok := codecNames[c]; ok {
		return s
	}
	return "unknown"
}

// IsVideo reports whether the codec carries pictures.
func (c Codec) IsVideo() bool {
	switch c {
	case CodecH264, CodecH265, CodecMPEG2, CodecProRes, CodecVP8, CodecVP9,
		CodecAV1, CodecJPEG, CodecPNG, CodecRAW:
		return true
	}
	return false
}

// IsAudio reports whether the codec carries audio samples.
func (c Codec) IsAudio() bool {
	switch c {
	case CodecAAC, CodecPCM, CodecMP3, CodecAC3, CodecOpus:
		return true
	}
	return false
}

// TrackType distinguishes video tracks from audio tracks.
type TrackType int

const (
	TrackVideo TrackType = iota
	TrackAudio
)

func (t TrackType) String() string {
	if t == TrackAudio {
		return "audio"
	}
	return "video"
}

// Format identifies a container format.
type Format int

// Container formats recognised by content sniffing.
const (
	FormatUnknown Format = iota
	FormatMOV
	FormatMKV
	FormatMPEGPS
	FormatMPEGTS
	FormatIMG
	FormatWebP
	FormatY4M
	FormatH264
	FormatWAV
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatMOV:     "mov",
	FormatMKV:     "mkv",
	FormatMPEGPS:  "mpeg-ps",
	FormatMPEGTS:  "mpeg-ts",
	FormatIMG:     "img",
	FormatWebP:    "webp",
	FormatY4M:     "y4m",
	FormatH264:    "h264",
	FormatWAV:     "wav",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// IsVideo reports whether the container can carry video.
func (f Format) IsVideo() bool {
	switch f {
	case FormatMOV, FormatMKV, FormatMPEGPS, FormatMPEGTS, FormatIMG,
		FormatWebP, FormatY4M, FormatH264:
		return true
	}
	return false
}

// IsAudio reports whether the container can carry audio.
func (f Format) IsAudio() bool {
	switch f {
	case FormatMOV, FormatMKV, FormatMPEGPS, FormatMPEGTS, FormatWAV:
		return true
	}
	return false
}
