package container

import (
	"bytes"
	"testing"

	"github.com/at-wat/ebml-go"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/framesrc/internal/fixture"
	"github.com/zsiec/framesrc/internal/media"
)

// matroska is a file with an MJPEG track of four frames and a PCM track
// whose second block laces two frames.
func matroska(t *testing.T, jpeg []byte) []byte {
	t.Helper()
	f := mkvFile{
		Header: mkvHeader{
			EBMLVersion: 1, EBMLReadVersion: 1, EBMLMaxIDLength: 4, EBMLMaxSizeLength: 8,
			DocType: "matroska", DocTypeVersion: 4, DocTypeReadVersion: 2,
		},
		Segment: mkvSegment{
			Info: mkvInfo{TimecodeScale: 1000000},
			Tracks: mkvTracks{TrackEntry: []mkvTrackEntry{
				{
					TrackNumber: 1, TrackType: mkvTrackVideo, CodecID: "V_MJPEG",
					Video: mkvVideo{PixelWidth: 64, PixelHeight: 48},
				},
				{
					TrackNumber: 2, TrackType: mkvTrackAudio, CodecID: "A_PCM/INT/LIT",
					DefaultDuration: 20000000,
					Audio:           mkvAudio{SamplingFrequency: 48000, Channels: 2, BitDepth: 16},
				},
			}},
			Cluster: []mkvCluster{
				{
					Timecode: 0,
					SimpleBlock: []ebml.Block{
						{TrackNumber: 1, Timecode: 0, Keyframe: true, Data: [][]byte{jpeg}},
						{TrackNumber: 2, Timecode: 0, Keyframe: true, Data: [][]byte{{1, 2, 3, 4}}},
						{TrackNumber: 1, Timecode: 40, Data: [][]byte{jpeg}},
						{TrackNumber: 2, Timecode: 20, Keyframe: true, Lacing: ebml.LacingFixed, Data: [][]byte{{5, 6, 7, 8}, {9, 10, 11, 12}}},
					},
				},
				{
					Timecode: 80,
					BlockGroup: []mkvBlockGroup{
						{Block: ebml.Block{TrackNumber: 1, Timecode: 0, Data: [][]byte{jpeg}}},
						{Block: ebml.Block{TrackNumber: 1, Timecode: 40, Data: [][]byte{jpeg}}, ReferenceBlock: []int64{-40}},
					},
				},
			},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, ebml.Marshal(&f, &buf))
	return buf.Bytes()
}

func TestMKV(t *testing.T) {
	t.Parallel()
	jpeg := fixture.Image(64, 48, imaging.JPEG)
	d, err := NewMKV(bytes.NewReader(matroska(t, jpeg)), nil)
	require.NoError(t, err)
	require.Len(t, d.VideoTracks(), 1)
	require.Len(t, d.AudioTracks(), 1)

	vm := d.VideoTracks()[0].Meta()
	require.Equal(t, media.CodecJPEG, vm.Codec)
	require.Equal(t, 1000, vm.Timescale)
	require.Equal(t, int64(4), vm.TotalFrames)
	require.Equal(t, &media.Size{Width: 64, Height: 48}, vm.Video.Size)

	video := readAll(t, d.VideoTracks()[0])
	require.Len(t, video, 4)
	wantPTS := []int64{0, 40, 80, 120}
	wantType := []media.FrameType{media.FrameKey, media.FrameInter, media.FrameKey, media.FrameInter}
	for i, p := range video {
		require.Equal(t, wantPTS[i], p.PTS, "packet %d", i)
		require.Equal(t, p.PTS, p.DTS)
		require.Equal(t, wantType[i], p.FrameType, "packet %d", i)
		require.Equal(t, int64(i), p.FrameNo)
		require.Equal(t, jpeg, p.Data)
	}

	am := d.AudioTracks()[0].Meta()
	require.Equal(t, media.CodecPCM, am.Codec)
	require.Equal(t, &media.AudioFormat{SampleRate: 48000, Channels: 2, SampleSizeBits: 16}, am.Audio.Format)
	audio := readAll(t, d.AudioTracks()[0])
	require.Len(t, audio, 3)
	require.Equal(t, []int64{0, 20, 40}, []int64{audio[0].PTS, audio[1].PTS, audio[2].PTS})
	require.Equal(t, []byte{9, 10, 11, 12}, audio[2].Data)
	require.Equal(t, int64(20), audio[2].Duration)
}

func TestMKVSeekToSync(t *testing.T) {
	t.Parallel()
	d, err := NewMKV(bytes.NewReader(matroska(t, fixture.Image(64, 48, imaging.JPEG))), nil)
	require.NoError(t, err)
	vt := d.VideoTracks()[0].(SeekableTrack)

	k, err := vt.SeekToSync(3)
	require.NoError(t, err)
	require.Equal(t, int64(2), k)
	p, err := vt.NextPacket()
	require.NoError(t, err)
	require.Equal(t, int64(80), p.PTS)
	require.Equal(t, int64(3), vt.CurrentFrame())

	k, err = vt.SeekToSync(-5)
	require.NoError(t, err)
	require.Equal(t, int64(0), k)
}
