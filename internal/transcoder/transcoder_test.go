package transcoder

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe-transcode/internal/encoding"
	"safe-transcode/internal/geometry"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_qsv             H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (Intel Quick Sync Video acceleration) (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseEncoders(t *testing.T) {
	best, caps := parseEncoders(encodersOutput)
	assert.Equal(t, CodecQSV, best)
	assert.Contains(t, caps, "qsv")
	assert.Contains(t, caps, "vaapi")
	assert.Contains(t, caps, "4k")
	assert.NotContains(t, caps, "nvenc")
}

func TestParseEncoders_SoftwareOnly(t *testing.T) {
	best, caps := parseEncoders(" V....D libx264  libx264 H.264\n A....D aac AAC\n")
	assert.Equal(t, CodecSoftware, best)
	assert.NotContains(t, caps, "4k")
	assert.Equal(t, []string{"h264", "aac", "1080p", "720p"}, caps)
}

func TestParseEncoders_NVENCWins(t *testing.T) {
	out := encodersOutput + " V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)\n"
	best, _ := parseEncoders(out)
	assert.Equal(t, CodecNVENC, best)
}

func TestEngine_HardwareEncoder(t *testing.T) {
	e := &Engine{HasHWAccel: true, bestCodec: CodecVAAPI}
	enc, ok := e.HardwareEncoder()
	assert.True(t, ok)
	assert.Equal(t, CodecVAAPI, enc)

	e = &Engine{HasHWAccel: false, bestCodec: CodecSoftware}
	_, ok = e.HardwareEncoder()
	assert.False(t, ok)
	assert.Equal(t, CodecSoftware, (&Engine{}).GetCodec())
}

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name string
		json string
		want geometry.RawMeta
	}{
		{
			name: "rotate tag",
			json: `{"streams":[{"width":1080,"height":1920,"tags":{"rotate":"90"}}]}`,
			want: geometry.RawMeta{CodedWidth: 1080, CodedHeight: 1920, Rotation: 90},
		},
		{
			name: "display matrix",
			json: `{"streams":[{"width":1920,"height":1080,"side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}]}`,
			want: geometry.RawMeta{CodedWidth: 1920, CodedHeight: 1080, Rotation: 270},
		},
		{
			name: "no rotation",
			json: `{"streams":[{"width":640,"height":480}]}`,
			want: geometry.RawMeta{CodedWidth: 640, CodedHeight: 480},
		},
		{
			name: "degenerate dimensions pass through",
			json: `{"streams":[{"width":0,"height":0}]}`,
			want: geometry.RawMeta{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbe([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseProbe_Errors(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams":[]}`))
	assert.ErrorIs(t, err, ErrNoVideoStream)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestBuildArgs(t *testing.T) {
	e := &Engine{audioBitrate: "128k", vaapiDevice: DefaultVAAPIDevice, maxThreads: 4}
	req := encoding.Request{
		SourcePath: "/in/clip.mov",
		DestPath:   "/out/clip.mp4",
		Plan: encoding.NewPlan(geometry.Aligned{Width: 1280, Height: 720, IsAligned: true}, 1_500_000,
			encoding.Selection{Class: encoding.HardwarePreferred, Encoder: encoding.SoftwareEncoder}),
	}

	args := strings.Join(e.buildArgs(req, "/out/.tmp.mp4"), " ")
	assert.Contains(t, args, "-i /in/clip.mov")
	assert.Contains(t, args, "-vf scale=1280:720")
	assert.Contains(t, args, "-c:v libx264")
	assert.Contains(t, args, "-b:v 1500000")
	assert.Contains(t, args, "-bufsize 3000000")
	assert.Contains(t, args, "-pix_fmt yuv420p")
	assert.Contains(t, args, "-threads 4")
	assert.Contains(t, args, "-c:a aac -b:a 128k")
	assert.True(t, strings.HasSuffix(args, "-f mp4 /out/.tmp.mp4"))
}

func TestBuildArgs_VAAPI(t *testing.T) {
	e := &Engine{audioBitrate: "96k", vaapiDevice: "/dev/dri/renderD129"}
	req := encoding.Request{
		SourcePath: "in.mkv",
		Plan: encoding.NewPlan(geometry.Aligned{Width: 640, Height: 480, IsAligned: true}, 800_000,
			encoding.Selection{Class: encoding.HardwarePreferred, Encoder: CodecVAAPI}),
	}

	args := strings.Join(e.buildArgs(req, "tmp.mp4"), " ")
	assert.Contains(t, args, "-vaapi_device /dev/dri/renderD129 -i in.mkv")
	assert.Contains(t, args, "-vf scale=640:480,format=nv12,hwupload")
	assert.Contains(t, args, "-c:v h264_vaapi")
	assert.NotContains(t, args, "-pix_fmt")
	assert.NotContains(t, args, "-threads")
}

func TestBuildArgs_FallbackHasNoScale(t *testing.T) {
	e := &Engine{audioBitrate: "128k"}
	req := encoding.Request{SourcePath: "in.avi", Plan: encoding.FallbackPlan(0, encoding.Software())}

	args := e.buildArgs(req, "tmp.mp4")
	assert.NotContains(t, args, "-vf")
	assert.Contains(t, strings.Join(args, " "), "-b:v 1500000")
}

func TestParseProgress(t *testing.T) {
	line := "frame=  240 fps= 48 q=28.0 size=    1024kB time=00:00:10.00 bitrate= 838.9kbits/s speed=1.92x"

	p, ok := parseProgress(line, 40)
	require.True(t, ok)
	assert.InDelta(t, 25.0, p.Percent, 0.001)
	assert.InDelta(t, 48.0, p.FPS, 0.001)
	assert.InDelta(t, 1.92, p.Speed, 0.001)

	p, ok = parseProgress(line, 5)
	require.True(t, ok)
	assert.Equal(t, 100.0, p.Percent)

	p, ok = parseProgress(line, 0)
	require.True(t, ok)
	assert.Zero(t, p.Percent)

	_, ok = parseProgress("Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'in.mov':", 10)
	assert.False(t, ok)
}

func TestScanLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("a\rb\nc"))
	sc.Split(scanLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTail(t *testing.T) {
	tl := &tail{n: 2}
	for _, l := range []string{"one", "", "two", "three"} {
		tl.add(l)
	}
	assert.Equal(t, "two\nthree", tl.String())
}

const fakeFFmpeg = `#!/bin/sh
for last; do :; done
case "$FAKE_FFMPEG_MODE" in
fail)
	echo "Unknown encoder 'h264_bogus'" >&2
	exit 1
	;;
hang)
	exec sleep 30
	;;
flood)
	head -c 300000 /dev/zero | tr '\0' 'a' >&2
	;;
esac
printf 'frame=   10 fps= 25 q=28.0 size=       1kB time=00:00:01.00 bitrate=   8.0kbits/s speed=1.0x\r' >&2
printf 'fakevideo' > "$last"
`

func newFakeEngine(t *testing.T) *Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte(fakeFFmpeg), 0o755))
	return &Engine{
		FFmpegPath:   bin,
		bestCodec:    CodecSoftware,
		audioBitrate: "128k",
		logger:       zerolog.New(io.Discard),
	}
}

func encodeRequest(t *testing.T) encoding.Request {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mov")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o644))
	return encoding.Request{
		JobID:      "job-1",
		SourcePath: src,
		DestPath:   filepath.Join(dir, "out.mp4"),
		Plan: encoding.NewPlan(geometry.Aligned{Width: 640, Height: 480, IsAligned: true}, 0,
			encoding.Software()),
	}
}

func waitResult(t *testing.T, ch <-chan encoding.Result) encoding.Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "channel closed without a result")
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not report a result")
	}
	return encoding.Result{}
}

func tempFiles(t *testing.T, dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, ".safe-transcode-*"))
	require.NoError(t, err)
	return matches
}

func TestEncode_Completed(t *testing.T) {
	e := newFakeEngine(t)
	req := encodeRequest(t)
	progress := make(chan encoding.Progress, 4)
	req.Progress = progress

	ch, err := e.Encode(context.Background(), req)
	require.NoError(t, err)
	res := waitResult(t, ch)

	assert.Equal(t, encoding.StatusCompleted, res.Status)
	data, err := os.ReadFile(req.DestPath)
	require.NoError(t, err)
	assert.Equal(t, "fakevideo", string(data))
	assert.Empty(t, tempFiles(t, filepath.Dir(req.DestPath)))

	select {
	case p := <-progress:
		assert.InDelta(t, 25.0, p.FPS, 0.001)
	default:
		t.Error("expected a progress update")
	}

	_, open := <-ch
	assert.False(t, open, "channel must close after the result")
}

func TestEncode_Error(t *testing.T) {
	t.Setenv("FAKE_FFMPEG_MODE", "fail")
	e := newFakeEngine(t)
	req := encodeRequest(t)

	ch, err := e.Encode(context.Background(), req)
	require.NoError(t, err)
	res := waitResult(t, ch)

	assert.Equal(t, encoding.StatusError, res.Status)
	assert.Contains(t, res.Message, "Unknown encoder")
	assert.NoFileExists(t, req.DestPath)
	assert.Empty(t, tempFiles(t, filepath.Dir(req.DestPath)))
}

func TestEncode_OversizedStderrLine(t *testing.T) {
	t.Setenv("FAKE_FFMPEG_MODE", "flood")
	e := newFakeEngine(t)
	req := encodeRequest(t)

	ch, err := e.Encode(context.Background(), req)
	require.NoError(t, err)
	res := waitResult(t, ch)

	assert.Equal(t, encoding.StatusCompleted, res.Status)
	data, err := os.ReadFile(req.DestPath)
	require.NoError(t, err)
	assert.Equal(t, "fakevideo", string(data))
}

func TestEncode_Cancelled(t *testing.T) {
	t.Setenv("FAKE_FFMPEG_MODE", "hang")
	e := newFakeEngine(t)
	req := encodeRequest(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := e.Encode(ctx, req)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	cancel()
	res := waitResult(t, ch)

	assert.Equal(t, encoding.StatusCancelled, res.Status)
	assert.NoFileExists(t, req.DestPath)
	assert.Empty(t, tempFiles(t, filepath.Dir(req.DestPath)))
}

func TestEncode_AlreadyCancelledContext(t *testing.T) {
	e := newFakeEngine(t)
	req := encodeRequest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := e.Encode(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, encoding.StatusCancelled, waitResult(t, ch).Status)
}
