package imgrec

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/nasa-jpl/detctl/capture"
	"github.com/nasa-jpl/detctl/generichttp"
	"github.com/nasa-jpl/detctl/sdk"
)

func frames(n int) []sdk.Frame {
	out := make([]sdk.Frame, n)
	for i := range out {
		data := make([]uint16, 6)
		for j := range data {
			data[j] = uint16(1000*i + j)
		}
		data[5] = 65535
		out[i] = sdk.Frame{
			BufferInfo: sdk.BufferInfo{Dims: sdk.Dims{Width: 3, Height: 2}, FrameNumber: i + 1},
			Exposure:   time.Millisecond,
			Data:       data}
	}
	return out
}

func TestWriteFitsRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	fr := frames(2)
	if err := WriteFits(buf, nil, fr); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := f.HDU(0).(fitsio.Image)
	axes := img.Header().Axes()
	if len(axes) != 3 || axes[0] != 3 || axes[1] != 2 || axes[2] != 2 {
		t.Errorf("axes %v, want [3 2 2]", axes)
	}
	var raw []int16
	if err := img.Read(&raw); err != nil {
		t.Fatal(err)
	}
	for n, fr := range fr {
		for i, v := range fr.Data {
			if got := uint16(int32(raw[n*6+i]) + 32768); got != v {
				t.Errorf("frame %d pixel %d: got %d want %d", n, i, got, v)
			}
		}
	}
	card := img.Header().Get("DATACRC")
	if card == nil {
		t.Fatal("no DATACRC card")
	}
}

func TestWriteFitsRejectsMixedShapes(t *testing.T) {
	fr := frames(2)
	fr[1].Width = 2
	fr[1].Height = 3
	fr[1].Dims = sdk.Dims{Width: 2, Height: 3}
	if err := WriteFits(&bytes.Buffer{}, nil, fr); err != ErrMixedShapes {
		t.Errorf("expected ErrMixedShapes, got %v", err)
	}
}

func TestChecksumChangesWithData(t *testing.T) {
	a := frames(1)
	b := frames(1)
	if Checksum(a) != Checksum(b) {
		t.Error("checksum is not deterministic")
	}
	b[0].Data[0]++
	if Checksum(a) == Checksum(b) {
		t.Error("checksum did not change with the data")
	}
}

func TestSaveIncrementsFilenames(t *testing.T) {
	root := t.TempDir()
	r := New(root, "cap", true)
	r.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	report := capture.NewReport("Sequence Capture")
	report.Status = capture.StatusCompleted
	for i := 0; i < 2; i++ {
		if err := r.Save(uuid.New(), report, frames(1)); err != nil {
			t.Fatal(err)
		}
	}
	for _, fn := range []string{"cap000001.fits", "cap000002.fits"} {
		if _, err := os.Stat(filepath.Join(root, "2024-03-09", fn)); err != nil {
			t.Errorf("missing %s: %v", fn, err)
		}
	}
}

func TestSaveDisabledWritesNothing(t *testing.T) {
	root := t.TempDir()
	r := New(root, "cap", false)
	if err := r.Save(uuid.New(), capture.NewReport("x"), frames(1)); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("disabled recorder wrote %d entries", len(entries))
	}
}

type table struct{ rt generichttp.RouteTable }

func (t table) RT() generichttp.RouteTable { return t.rt }

func TestInject(t *testing.T) {
	r := New(t.TempDir(), "a", false)
	tbl := table{rt: generichttp.RouteTable{}}
	r.Inject(tbl)
	mux := chi.NewRouter()
	tbl.rt.Bind(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/autowrite/enabled", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusOK || !r.Enabled() {
		t.Errorf("enabling gave %d, enabled=%v", w.Code, r.Enabled())
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/autowrite/prefix", strings.NewReader(`{"str":"dark"}`)))
	if r.Prefix() != "dark" {
		t.Errorf("prefix %q", r.Prefix())
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/autowrite/prefix", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"str":"dark"}` {
		t.Errorf("GET prefix gave %s", got)
	}
}
