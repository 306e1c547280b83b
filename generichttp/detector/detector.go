// Package detector provides an HTTP interface to a detector manager
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/nasa-jpl/detctl/capture"
	det "github.com/nasa-jpl/detctl/detector"
	"github.com/nasa-jpl/detctl/event"
	"github.com/nasa-jpl/detctl/generichttp"
	"github.com/nasa-jpl/detctl/server"
)

// KeepAlive is the interval between SSE comment lines on an idle stream
var KeepAlive = 30 * time.Second

// HTTPManager wraps a detector manager and event bus in an HTTP interface
type HTTPManager struct {
	m   *det.Manager
	bus *event.Bus

	// ScanTimeout bounds a rescan triggered over HTTP
	ScanTimeout time.Duration

	RouteTable generichttp.RouteTable
}

// NewHTTPManager returns a new HTTP wrapper with its route table populated
func NewHTTPManager(m *det.Manager, bus *event.Bus) *HTTPManager {
	h := &HTTPManager{m: m, bus: bus, ScanTimeout: 10 * time.Second}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/detectors"}:              h.List,
		{Method: http.MethodPost, Path: "/detectors/scan"}:        h.Scan,
		{Method: http.MethodGet, Path: "/detectors/{id}"}:         h.Describe,
		{Method: http.MethodPost, Path: "/detectors/{id}/capture"}: h.RunCapture,
		{Method: http.MethodPost, Path: "/detectors/{id}/cancel"}:  h.CancelCapture,
		{Method: http.MethodGet, Path: "/detectors/{id}/report"}:  h.Report,
		{Method: http.MethodGet, Path: "/events"}:                 h.Events,
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPManager) RT() generichttp.RouteTable {
	return h.RouteTable
}

// StatusFor maps an error from the detector layer to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, det.ErrDetectorNotFound):
		return http.StatusNotFound
	case errors.Is(err, det.ErrCaptureInProgress), errors.Is(err, det.ErrNoCaptureInProgress):
		return http.StatusConflict
	case errors.Is(err, det.ErrDetectorDisconnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrBadMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *HTTPManager) service(w http.ResponseWriter, r *http.Request) (*det.Service, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("bad detector id: %v", err), http.StatusBadRequest)
		return nil, false
	}
	svc, err := h.m.Get(id)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return nil, false
	}
	return svc, true
}

// List sends the summary of every detector
func (h *HTTPManager) List(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, h.m.List())
}

// Scan looks for new detectors and sends the ids of those added
func (h *HTTPManager) Scan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.ScanTimeout)
	defer cancel()
	ids, err := h.m.Connect(ctx)
	if err != nil {
		// open failures leave the detector registered; report but do not fail
		log.Printf("scan: %v", err)
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	server.ReplyJSON(w, ids)
}

// Describe sends the summary of one detector
func (h *HTTPManager) Describe(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	server.ReplyJSON(w, svc.Summary())
}

// RunCapture starts a capture described by a capture.Mode JSON body and
// answers 202 with the new report
func (h *HTTPManager) RunCapture(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	var mode capture.Mode
	err := json.NewDecoder(r.Body).Decode(&mode)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := svc.RunCapture(mode)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(report)
}

// CancelCapture asks the running capture to stop
func (h *HTTPManager) CancelCapture(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	if err := svc.CancelCapture(); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Report sends the report of the current or last capture
func (h *HTTPManager) Report(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	report, ok := svc.Report()
	if !ok {
		http.Error(w, "no capture has run on this detector", http.StatusNotFound)
		return
	}
	server.ReplyJSON(w, report)
}

// Events streams bus events as server sent events.  ?detector=<id> limits
// the stream to one detector.
func (h *HTTPManager) Events(w http.ResponseWriter, r *http.Request) {
	var only uuid.UUID
	if q := r.URL.Query().Get("detector"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			http.Error(w, fmt.Sprintf("bad detector id: %v", err), http.StatusBadRequest)
			return
		}
		only = id
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.bus.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if only != uuid.Nil && e.Detector != only {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("encoding %s event: %v", e.Kind, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
