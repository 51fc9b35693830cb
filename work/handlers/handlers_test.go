package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/grafana/regexp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vodgate/work/auth"
	"vodgate/work/buffer"
	"vodgate/work/config"
	"vodgate/work/convert"
	"vodgate/work/jobs"
	"vodgate/work/probe"
	"vodgate/work/remote"
	"vodgate/work/resolve"
	"vodgate/work/stream"
)

var ddSmallRe = regexp.MustCompile(`bs=1 skip=(\d+) count=(\d+)`)

// fakeRemote simulates a remote host's filesystem: stat, ffprobe,
// test, mkdir/rmdir, ffmpeg chains and cat/dd byte reads all answer
// from an in-memory file map.
type fakeRemote struct {
	mu        sync.Mutex
	files     map[string][]byte
	probeJSON map[string]string
	locks     map[string]bool
	commands  []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:     make(map[string][]byte),
		probeJSON: make(map[string]string),
		locks:     make(map[string]bool),
	}
}

// quotedPath pulls the last single-quoted token out of a command.
func quotedPath(command string) string {
	parts := strings.Split(command, "'")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func (f *fakeRemote) Run(ctx context.Context, hostID, command string) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	path := quotedPath(command)

	switch {
	case strings.HasPrefix(command, "stat "):
		data, ok := f.files[path]
		if !ok {
			return remote.Result{}, &remote.ExitError{Code: 1, Stderr: "No such file"}
		}
		return remote.Result{Stdout: fmt.Sprintf("%d 1700000000", len(data))}, nil

	case strings.HasPrefix(command, "ffprobe "):
		out, ok := f.probeJSON[path]
		if !ok {
			return remote.Result{}, &remote.ExitError{Code: 1, Stderr: "Invalid data found"}
		}
		return remote.Result{Stdout: out}, nil

	case strings.HasPrefix(command, "test -f "):
		if _, ok := f.files[path]; ok {
			return remote.Result{}, nil
		}
		return remote.Result{}, &remote.ExitError{Code: 1}

	case strings.HasPrefix(command, "mkdir "):
		if f.locks[path] {
			return remote.Result{}, &remote.ExitError{Code: 1, Stderr: "File exists"}
		}
		f.locks[path] = true
		return remote.Result{}, nil

	case strings.HasPrefix(command, "rmdir "):
		delete(f.locks, path)
		return remote.Result{}, nil

	case strings.HasPrefix(command, "ffmpeg "):
		// The chain's final chmod names the real output path.
		f.files[path] = []byte("converted-bytes")
		return remote.Result{}, nil
	}
	return remote.Result{}, nil
}

func (f *fakeRemote) OpenStream(ctx context.Context, hostID, command string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)

	if strings.HasPrefix(command, "cat ") {
		data, ok := f.files[quotedPath(command)]
		if !ok {
			return nil, fmt.Errorf("no such file")
		}
		return io.NopCloser(strings.NewReader(string(data))), nil
	}

	if m := ddSmallRe.FindStringSubmatch(command); m != nil {
		data := f.files[quotedPath(strings.SplitN(command, " bs=", 2)[0])]
		var skip, count int
		fmt.Sscanf(m[1], "%d", &skip)
		fmt.Sscanf(m[2], "%d", &count)
		end := skip + count
		if end > len(data) {
			end = len(data)
		}
		if skip > len(data) {
			skip = len(data)
		}
		return io.NopCloser(strings.NewReader(string(data[skip:end]))), nil
	}
	return nil, fmt.Errorf("unsupported stream command: %s", command)
}

func (f *fakeRemote) openStreamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, "cat ") || strings.HasPrefix(c, "dd ") {
			n++
		}
	}
	return n
}

const ffprobeCompatible = `{
	"streams": [{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720}],
	"format": {"duration": "120.0", "bit_rate": "1500000"}
}`

func testGatewayConfig() *config.Config {
	return &config.Config{
		BaseURL:            "http://gateway.test",
		ContentRoot:        "/content",
		AuthSecret:         "testsecret",
		BitrateCeilingKbps: 2500,
		RunTimeout:         time.Second,
		StreamIdleTimeout:  5 * time.Second,
		StreamMinTimeout:   30 * time.Second,
		StreamMinRateKBs:   256,
		WorkerThreads:      2,
		CopyBufferKB:       64,
		SmallWindowBytes:   1 << 20,
		DefaultHost:        "media1",
		Hosts: []config.HostConfig{
			{ID: "media1", Address: "127.0.0.1", Port: 22, MaxSessions: 4, MaxConversions: 2, LaunchRate: 10},
		},
		NamespaceHosts: map[string]string{},
		Conversion: config.ConversionConfig{
			TargetSuffix:  "_web",
			BitrateKbps:   2000,
			Resolution:    "1280x720",
			Quality:       "fast",
			ThumbnailSize: "320x180",
		},
	}
}

func newTestRouter(t *testing.T, fake *fakeRemote) (*mux.Router, *Gateway) {
	t.Helper()
	cfg := testGatewayConfig()

	tracker, err := jobs.NewTracker(cfg.WorkerThreads, nil)
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	g := &Gateway{
		Config:    cfg,
		Runner:    fake,
		Verifier:  auth.NewJWTVerifier(cfg.AuthSecret),
		Resolver:  resolve.NewResolver(cfg.ContentRoot),
		Prober:    probe.NewProber(cfg, fake),
		Engine:    convert.NewEngine(cfg, fake),
		Streamer:  stream.NewStreamer(cfg, fake, buffer.NewPool(64*1024)),
		Tracker:   tracker,
		StartTime: time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/stream/{videoId}", HandleStream(g)).Methods("GET", "HEAD")
	router.HandleFunc("/info/{videoId}", HandleInfo(g)).Methods("GET")
	router.HandleFunc("/convert/{videoId}", HandleConvert(g)).Methods("POST")
	router.HandleFunc("/thumbnail/{videoId}", HandleThumbnail(g)).Methods("GET")
	router.HandleFunc("/jobs/{id}", HandleJob(g)).Methods("GET")
	router.HandleFunc("/healthz", HandleHealthz()).Methods("GET")
	router.HandleFunc("/stats", HandleStats(g)).Methods("GET")
	router.PathPrefix("/").HandlerFunc(HandleOptions()).Methods("OPTIONS")
	return router, g
}

func tokenFor(t *testing.T, namespace string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"ns":  namespace,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("testsecret"))
	require.NoError(t, err)
	return token
}

func videoID(path string) string {
	return base64.URLEncoding.EncodeToString([]byte(path))
}

func doRequest(router *mux.Router, method, target, token, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(router *mux.Router, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestStreamRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "GET", "/stream/"+videoID("alice/a.mp4"), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, errorBody(t, rec), "missing bearer token")
}

func TestStreamRejectsBadToken(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "GET", "/stream/"+videoID("alice/a.mp4"), "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamRejectsMalformedID(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "GET", "/stream/%21%21%21", tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRejectsForeignNamespace(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/bob/b.mp4"] = []byte("bobs bytes")
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("bob/b.mp4"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, fake.openStreamCount(), "forbidden requests must never touch the remote file")
}

func TestStreamMissingFile(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "GET", "/stream/"+videoID("alice/ghost.mp4"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamFullFile(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	fake.probeJSON["/content/alice/a.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("alice/a.mp4"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789abcdef", rec.Body.String())
	assert.Equal(t, "16", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
}

func TestStreamRangeRequest(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	fake.probeJSON["/content/alice/a.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("alice/a.mp4"), tokenFor(t, "alice"), "bytes=2-5")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "bytes 2-5/16", rec.Header().Get("Content-Range"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
}

func TestStreamSuffixRange(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	fake.probeJSON["/content/alice/a.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("alice/a.mp4"), tokenFor(t, "alice"), "bytes=-4")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "cdef", rec.Body.String())
	assert.Equal(t, "bytes 12-15/16", rec.Header().Get("Content-Range"))
}

func TestStreamUnsatisfiableRange(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	fake.probeJSON["/content/alice/a.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("alice/a.mp4"), tokenFor(t, "alice"), "bytes=9999-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */16", rec.Header().Get("Content-Range"))
	assert.Equal(t, 0, rec.Body.Len(), "a 416 answer carries no body")
	assert.Equal(t, 0, fake.openStreamCount(), "a 416 must not read any remote bytes")
}

func TestStreamRangeEndPastEOF(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	fake.probeJSON["/content/alice/a.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	// A closed range whose end lies beyond the file is rejected, not
	// clamped to the last byte.
	rec := doRequest(router, "GET", "/stream/"+videoID("alice/a.mp4"), tokenFor(t, "alice"), "bytes=10-99")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */16", rec.Header().Get("Content-Range"))
	assert.Equal(t, 0, rec.Body.Len())
	assert.Equal(t, 0, fake.openStreamCount(), "a 416 must not read any remote bytes")
}

func TestStreamEmptyFile(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/empty.mp4"] = []byte{}
	fake.probeJSON["/content/alice/empty.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("alice/empty.mp4"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, fake.openStreamCount())
}

func TestStreamHeadRequest(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	fake.probeJSON["/content/alice/a.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "HEAD", "/stream/"+videoID("alice/a.mp4"), tokenFor(t, "alice"), "bytes=0-3")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-3/16", rec.Header().Get("Content-Range"))
	assert.Equal(t, 0, rec.Body.Len())
	assert.Equal(t, 0, fake.openStreamCount())
}

func TestStreamIncompatibleServesOriginalAndQueuesConversion(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/old.avi"] = []byte("avi-bytes")
	fake.probeJSON["/content/alice/old.avi"] = ffprobeCompatible
	router, g := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("alice/old.avi"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "avi-bytes", rec.Body.String())

	// Background conversion eventually materializes the derivative.
	target := g.Engine.TargetPath("/content/alice/old.avi")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fake.mu.Lock()
		_, done := fake.files[target]
		fake.mu.Unlock()
		if done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("conversion of %s never completed", target)
}

func TestStreamPrefersExistingDerivative(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/old.avi"] = []byte("avi-bytes")
	fake.files["/content/alice/old_web.mp4"] = []byte("converted-bytes")
	fake.probeJSON["/content/alice/old.avi"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/stream/"+videoID("alice/old.avi"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "converted-bytes", rec.Body.String())
}

func TestInfoReportsMetadataAndVerdict(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	fake.probeJSON["/content/alice/a.mp4"] = ffprobeCompatible
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/info/"+videoID("alice/a.mp4"), tokenFor(t, "alice"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "h264", resp.Metadata.VideoCodec)
	assert.Equal(t, int64(1500), resp.Metadata.BitrateKbps)
	assert.True(t, resp.Verdict.Compatible)
	assert.Contains(t, resp.Stream, "/stream/")
}

func TestInfoUnprobeableFile(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/blob.bin"] = []byte("not video")
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/info/"+videoID("alice/blob.bin"), tokenFor(t, "alice"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Metadata)
	assert.True(t, resp.Verdict.NeedsConversion)
	assert.Equal(t, "unprobeable", resp.Verdict.Reason)
}

func TestConvertQueuesJobAndCompletes(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/old.avi"] = []byte("avi-bytes")
	router, g := newTestRouter(t, fake)

	rec := doRequest(router, "POST", "/convert/"+videoID("alice/old.avi"), tokenFor(t, "alice"), "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, g.Engine.TargetPath("/content/alice/old.avi"), job.TargetPath)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		poll := doRequest(router, "GET", "/jobs/"+job.ID, tokenFor(t, "alice"), "")
		require.Equal(t, http.StatusOK, poll.Code)
		var polled jobs.Job
		require.NoError(t, json.Unmarshal(poll.Body.Bytes(), &polled))
		if polled.State == jobs.StateDone {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("conversion job never reached done")
}

func TestConvertAlreadyDone(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/old.avi"] = []byte("avi-bytes")
	fake.files["/content/alice/old_web.mp4"] = []byte("converted-bytes")
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "POST", "/convert/"+videoID("alice/old.avi"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var res convert.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.AlreadyExists)
	assert.Equal(t, "/content/alice/old_web.mp4", res.TargetPath)
}

func TestConvertHonorsRequestParams(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/old.avi"] = []byte("avi-bytes")
	router, g := newTestRouter(t, fake)

	body := `{"bitrate": 800, "resolution": "640x360", "quality": "slow"}`
	rec := doJSONRequest(router, "POST", "/convert/"+videoID("alice/old.avi"), tokenFor(t, "alice"), body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	target := g.Engine.TargetPath("/content/alice/old.avi")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fake.mu.Lock()
		_, done := fake.files[target]
		fake.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	fake.mu.Lock()
	var ffmpegCmd string
	for _, c := range fake.commands {
		if strings.HasPrefix(c, "ffmpeg ") {
			ffmpegCmd = c
		}
	}
	fake.mu.Unlock()
	require.NotEmpty(t, ffmpegCmd, "conversion never ran")
	assert.Contains(t, ffmpegCmd, "-b:v 800k")
	assert.Contains(t, ffmpegCmd, "-s 640x360")
	assert.Contains(t, ffmpegCmd, "-preset slow")
}

func TestConvertRejectsMalformedBody(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/old.avi"] = []byte("avi-bytes")
	router, _ := newTestRouter(t, fake)

	rec := doJSONRequest(router, "POST", "/convert/"+videoID("alice/old.avi"), tokenFor(t, "alice"), "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConvertMissingSource(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "POST", "/convert/"+videoID("alice/ghost.avi"), tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThumbnailGeneratesAndServes(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/thumbnail/"+videoID("alice/a.mp4")+"?time=30", tokenFor(t, "alice"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "converted-bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestThumbnailAcceptsClockTime(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("0123456789abcdef")
	router, _ := newTestRouter(t, fake)

	rec := doRequest(router, "GET", "/thumbnail/"+videoID("alice/a.mp4")+"?time=00:01:30", tokenFor(t, "alice"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	fake.mu.Lock()
	var ffmpegCmd string
	for _, c := range fake.commands {
		if strings.HasPrefix(c, "ffmpeg ") {
			ffmpegCmd = c
		}
	}
	fake.mu.Unlock()
	assert.Contains(t, ffmpegCmd, "-ss 90 ")
}

func TestThumbnailRejectsBadTime(t *testing.T) {
	fake := newFakeRemote()
	fake.files["/content/alice/a.mp4"] = []byte("x")
	router, _ := newTestRouter(t, fake)

	for _, bad := range []string{"-5", "1:30", "00:99:00", "abc"} {
		rec := doRequest(router, "GET", "/thumbnail/"+videoID("alice/a.mp4")+"?time="+bad, tokenFor(t, "alice"), "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "time=%s", bad)
	}
}

func TestJobsUnknownID(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "GET", "/jobs/nope", tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "GET", "/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, "GET", "/stats", tokenFor(t, "alice"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptionsPreflight(t *testing.T) {
	router, _ := newTestRouter(t, newFakeRemote())
	rec := doRequest(router, "OPTIONS", "/stream/"+videoID("alice/a.mp4"), "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
}
