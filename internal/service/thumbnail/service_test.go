package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	"github.com/aliskhannn/thumby/internal/engine"
	"github.com/aliskhannn/thumby/internal/model"
	"github.com/aliskhannn/thumby/internal/storage/file"
)

var limits = model.Limits{MaxWidth: 1920, MaxHeight: 1080}

func TestMain(m *testing.M) {
	if err := engine.Init(); err != nil {
		panic(err)
	}
	code := m.Run()
	engine.Shutdown()
	os.Exit(code)
}

func fixture(t *testing.T, w, h int, c color.NRGBA, format imaging.Format) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, imaging.New(w, h, c), format); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string][]byte{
		"cat.png":    fixture(t, 400, 200, color.NRGBA{R: 255, A: 255}, imaging.PNG),
		"dog.jpg":    fixture(t, 300, 600, color.NRGBA{B: 255, A: 255}, imaging.JPEG),
		"broken.png": []byte("\x89PNG\r\n\x1a\ngarbage"),
	}
	for name, data := range files {
		if err := afero.WriteFile(fsys, name, data, 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	return fsys
}

func newService(t *testing.T, fsys afero.Fs) (*Service, *engine.Handle) {
	t.Helper()
	h, err := engine.New(file.NewStorageFs(fsys))
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	t.Cleanup(h.Close)
	return NewService(h, DefaultPrefix, limits), h
}

// do runs one request the way the HTTP handler does: the context is always
// released before returning.
func do(t *testing.T, s *Service, uri string) (model.Thumbnail, *model.RequestContext, error) {
	t.Helper()
	rc := model.NewRequestContext(uri)
	defer rc.Release()
	thumb, err := s.Thumbnail(context.Background(), rc)
	return thumb, rc, err
}

func decodeSize(t *testing.T, data []byte) (string, int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return format, cfg.Width, cfg.Height
}

func TestThumbnailWidthOnlyKeepsAspectRatio(t *testing.T) {
	s, h := newService(t, newFS(t))

	thumb, rc, err := do(t, s, "/thumb/cat.png?w=100")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if thumb.ContentType != "image/png" {
		t.Fatalf("content type = %q, want image/png", thumb.ContentType)
	}
	if format, w, hh := decodeSize(t, thumb.Data); format != "png" || w != 100 || hh != 50 {
		t.Fatalf("output = %s %dx%d, want png 100x50", format, w, hh)
	}
	if rc.State != model.StateHeadersSet || rc.Code != http.StatusOK {
		t.Fatalf("state = %s code = %d", rc.State, rc.Code)
	}
	if !h.Empty() {
		t.Fatal("engine handle must be empty after the request")
	}
}

func TestThumbnailHeightOnlyKeepsAspectRatio(t *testing.T) {
	s, _ := newService(t, newFS(t))

	thumb, _, err := do(t, s, "/thumb/dog.jpg?h=200")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if thumb.ContentType != "image/jpeg" {
		t.Fatalf("content type = %q, want image/jpeg", thumb.ContentType)
	}
	if _, w, hh := decodeSize(t, thumb.Data); w != 100 || hh != 200 {
		t.Fatalf("output = %dx%d, want 100x200", w, hh)
	}
}

func TestThumbnailBothDimensionsIgnoresAspectRatio(t *testing.T) {
	s, _ := newService(t, newFS(t))

	thumb, _, err := do(t, s, "/thumb/cat.png?w=30&h=90")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if _, w, hh := decodeSize(t, thumb.Data); w != 30 || hh != 90 {
		t.Fatalf("output = %dx%d, want 30x90", w, hh)
	}
}

func TestThumbnailPassthrough(t *testing.T) {
	fsys := newFS(t)
	src, err := afero.ReadFile(fsys, "cat.png")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	s, _ := newService(t, fsys)

	for _, uri := range []string{
		"/thumb/cat.png",
		"/thumb/cat.png?w=5000",
		"/thumb/cat.png?w=-10&h=abc",
		"/thumb/cat.png?h=1081",
	} {
		thumb, _, err := do(t, s, uri)
		if err != nil {
			t.Fatalf("%s: %v", uri, err)
		}
		if !bytes.Equal(thumb.Data, src) {
			t.Fatalf("%s: expected the unmodified source image", uri)
		}
	}
}

func TestThumbnailOutOfRangeDimensionIsIgnored(t *testing.T) {
	s, _ := newService(t, newFS(t))

	thumb, rc, err := do(t, s, "/thumb/cat.png?w=5000&h=100")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if rc.Params != (model.ThumbnailParameters{Width: 0, Height: 100}) {
		t.Fatalf("params = %+v", rc.Params)
	}
	if _, w, hh := decodeSize(t, thumb.Data); w != 200 || hh != 100 {
		t.Fatalf("output = %dx%d, want 200x100", w, hh)
	}
}

func TestThumbnailIsIdempotent(t *testing.T) {
	s, _ := newService(t, newFS(t))

	first, _, err := do(t, s, "/thumb/cat.png?w=120")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, _, err := do(t, s, "/thumb/cat.png?w=120")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatal("identical requests produced different bytes")
	}
}

func TestThumbnailErrors(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    error
		code    int
		message string
		state   model.State
	}{
		{"missing file", "/thumb/missing.png", model.ErrNotFound, http.StatusNotFound, "Document was not found", model.StateError},
		{"undecodable file", "/thumb/broken.png", model.ErrNotFound, http.StatusNotFound, "Document was not found", model.StateError},
		{"too many separators", "/thumb/a/b/c", model.ErrNotFound, http.StatusNotFound, "Document was not found", model.StateError},
		{"separator in query", "/thumb/cat.png?w=1/2", model.ErrNotFound, http.StatusNotFound, "Document was not found", model.StateError},
		{"wrong prefix", "/other/cat.png", model.ErrNotFound, http.StatusNotFound, "Document was not found", model.StateError},
		{"empty filename", "/thumb/", model.ErrNotFound, http.StatusNotFound, "Document was not found", model.StateError},
		{"bad escape", "/thumb/%zz.png", model.ErrBadRequest, http.StatusBadRequest, "Bad Request", model.StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, h := newService(t, newFS(t))

			_, rc, err := do(t, s, tt.uri)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if rc.Code != tt.code || rc.Message != tt.message || rc.State != tt.state {
				t.Fatalf("outcome = %d %q %s, want %d %q %s", rc.Code, rc.Message, rc.State, tt.code, tt.message, tt.state)
			}
			if !h.Empty() {
				t.Fatal("engine handle must be empty after a failed request")
			}
		})
	}
}

func TestThumbnailDecodesEscapedFilename(t *testing.T) {
	fsys := newFS(t)
	if err := afero.WriteFile(fsys, "my cat.png", fixture(t, 8, 8, color.NRGBA{G: 255, A: 255}, imaging.PNG), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s, _ := newService(t, fsys)

	thumb, _, err := do(t, s, "/thumb/my%20cat.png")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if thumb.Filename != "my cat.png" {
		t.Fatalf("filename = %q", thumb.Filename)
	}
}

func TestThumbnailNoCrossContamination(t *testing.T) {
	s, _ := newService(t, newFS(t))

	if _, _, err := do(t, s, "/thumb/missing.png"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if _, _, err := do(t, s, "/thumb/cat.png?w=100"); err != nil {
		t.Fatalf("cat: %v", err)
	}

	thumb, _, err := do(t, s, "/thumb/dog.jpg")
	if err != nil {
		t.Fatalf("dog: %v", err)
	}
	if format, w, h := decodeSize(t, thumb.Data); format != "jpeg" || w != 300 || h != 600 {
		t.Fatalf("dog output = %s %dx%d, want jpeg 300x600", format, w, h)
	}
}

func TestThumbnailServicesAreIndependent(t *testing.T) {
	fsys := newFS(t)
	cat, _ := newService(t, fsys)
	dog, _ := newService(t, fsys)

	var wg sync.WaitGroup
	results := make([]model.Thumbnail, 2)
	errs := make([]error, 2)

	for i, req := range []struct {
		s   *Service
		uri string
	}{{cat, "/thumb/cat.png?w=40"}, {dog, "/thumb/dog.jpg?w=40"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc := model.NewRequestContext(req.uri)
			defer rc.Release()
			results[i], errs[i] = req.s.Thumbnail(context.Background(), rc)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if results[0].ContentType != "image/png" || results[1].ContentType != "image/jpeg" {
		t.Fatalf("content types crossed over: %q %q", results[0].ContentType, results[1].ContentType)
	}
	if _, w, h := decodeSize(t, results[0].Data); w != 40 || h != 20 {
		t.Fatalf("cat = %dx%d, want 40x20", w, h)
	}
	if _, w, h := decodeSize(t, results[1].Data); w != 40 || h != 80 {
		t.Fatalf("dog = %dx%d, want 40x80", w, h)
	}
}

func TestTargetSizePreservesAspectRatio(t *testing.T) {
	sources := [][2]int{{400, 200}, {1000, 333}, {17, 1080}, {1920, 1080}, {3, 7}}

	for _, src := range sources {
		for given := 1; given <= 1080; given += 37 {
			w, h := TargetSize(src[0], src[1], model.ThumbnailParameters{Width: given})
			if w != given {
				t.Fatalf("width changed: %d != %d", w, given)
			}
			want := float64(src[1]) * float64(given) / float64(src[0])
			if h < 1 || math.Abs(float64(h)-want) > 1 {
				t.Fatalf("src %v w=%d: height %d, want about %.2f", src, given, h, want)
			}

			w, h = TargetSize(src[0], src[1], model.ThumbnailParameters{Height: given})
			want = float64(src[0]) * float64(given) / float64(src[1])
			if h != given || w < 1 || math.Abs(float64(w)-want) > 1 {
				t.Fatalf("src %v h=%d: width %d, want about %.2f", src, given, w, want)
			}
		}
	}
}

func TestTargetSizeTruncates(t *testing.T) {
	w, h := TargetSize(400, 300, model.ThumbnailParameters{Width: 100})
	if w != 100 || h != 75 {
		t.Fatalf("got %dx%d, want 100x75", w, h)
	}
	w, h = TargetSize(10, 3, model.ThumbnailParameters{Width: 4})
	if w != 4 || h != 1 {
		t.Fatalf("got %dx%d, want 4x1", w, h)
	}
	w, h = TargetSize(1000, 1, model.ThumbnailParameters{Width: 10})
	if w != 10 || h != 1 {
		t.Fatalf("got %dx%d, want 10x1 (clamped)", w, h)
	}
}
