package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/nasa-jpl/detctl/capture"
	det "github.com/nasa-jpl/detctl/detector"
	"github.com/nasa-jpl/detctl/event"
	"github.com/nasa-jpl/detctl/sdk"
)

const sequenceBody = `{"kind":"sequence","sequence":{"exposureTime":"1ms","frameCount":%d}}`

type fixture struct {
	drv *sdk.MockDriver
	m   *det.Manager
	bus *event.Bus
	id  uuid.UUID
	h   http.Handler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	drv := sdk.NewMockDriver(1)
	drv.Mocks[0].Sensor = sdk.Dims{Width: 4, Height: 4}
	bus := event.NewBus(64)
	m := det.NewManager(drv, det.Config{HeartbeatPeriod: 10 * time.Millisecond, Events: bus})
	t.Cleanup(func() { m.Close() })
	ids, err := m.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	NewHTTPManager(m, bus).RT().Bind(r)
	return &fixture{drv: drv, m: m, bus: bus, id: ids[0], h: r}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	svc, _ := f.m.Get(f.id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func seq(frames int) string {
	return fmt.Sprintf(sequenceBody, frames)
}

func TestList(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodGet, "/detectors", "")
	var list []struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != f.id || list[0].Status != "Idle" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestErrorCodes(t *testing.T) {
	f := setup(t)
	base := "/detectors/" + f.id.String()
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/detectors/not-a-uuid", "", http.StatusBadRequest},
		{http.MethodGet, "/detectors/" + uuid.New().String(), "", http.StatusNotFound},
		{http.MethodPost, base + "/capture", "{", http.StatusBadRequest},
		{http.MethodPost, base + "/capture", `{"kind":"stream"}`, http.StatusBadRequest},
		{http.MethodPost, base + "/cancel", "", http.StatusConflict},
		{http.MethodGet, base + "/report", "", http.StatusNotFound},
	}
	for _, c := range cases {
		if w := f.do(c.method, c.path, c.body); w.Code != c.want {
			t.Errorf("%s %s: got %d want %d (%s)", c.method, c.path, w.Code, c.want, w.Body.String())
		}
	}
}

func TestCaptureLifecycle(t *testing.T) {
	f := setup(t)
	f.drv.Mocks[0].Latency = 20 * time.Millisecond
	base := "/detectors/" + f.id.String()

	w := f.do(http.MethodPost, base+"/capture", seq(50))
	if w.Code != http.StatusAccepted {
		t.Fatalf("capture gave %d: %s", w.Code, w.Body.String())
	}
	var report capture.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if w := f.do(http.MethodPost, base+"/capture", seq(1)); w.Code != http.StatusConflict {
		t.Errorf("second capture gave %d, want 409", w.Code)
	}
	if w := f.do(http.MethodPost, base+"/cancel", ""); w.Code != http.StatusOK {
		t.Errorf("cancel gave %d", w.Code)
	}
	f.wait(t)

	w = f.do(http.MethodGet, base+"/report", "")
	var final capture.Report
	if err := json.NewDecoder(w.Body).Decode(&final); err != nil {
		t.Fatal(err)
	}
	if final.ID != report.ID || final.Status != capture.StatusCanceled {
		t.Errorf("unexpected final report %+v", final)
	}
}

func TestDisconnectedIsUnavailable(t *testing.T) {
	f := setup(t)
	f.drv.Mocks[0].Unplug()
	svc, _ := f.m.Get(f.id)
	deadline := time.Now().Add(2 * time.Second)
	for svc.Status() != det.StatusDisconnected {
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never noticed the unplug")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w := f.do(http.MethodPost, "/detectors/"+f.id.String()+"/capture", seq(1)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("capture on a disconnected detector gave %d, want 503", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?detector="+f.id.String(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	rd := bufio.NewReader(resp.Body)
	if line, _ := rd.ReadString('\n'); line != ": connected\n" {
		t.Fatalf("first line %q", line)
	}

	if w := f.do(http.MethodPost, "/detectors/"+f.id.String()+"/capture", seq(2)); w.Code != http.StatusAccepted {
		t.Fatalf("capture gave %d", w.Code)
	}
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before captureFinished: %v", err)
		}
		if line == "event: captureFinished\n" {
			data, _ := rd.ReadString('\n')
			if !strings.Contains(data, `"frameCount":2`) || !strings.Contains(data, `"status":"Completed"`) {
				t.Errorf("unexpected payload %s", data)
			}
			return
		}
	}
}
