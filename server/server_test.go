package server

import (
	"go/types"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHumanPayload(t *testing.T) {
	cases := []struct {
		hp   HumanPayload
		want string
	}{
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
		{HumanPayload{T: types.Int, Int: 3}, `{"int":3}`},
		{HumanPayload{T: types.Float64, Float: 1.5}, `{"f64":1.5}`},
		{HumanPayload{T: types.String, String: "x"}, `{"str":"x"}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, httptest.NewRequest("GET", "/", nil))
		if got := strings.TrimSpace(w.Body.String()); got != c.want {
			t.Errorf("expected %s got %s", c.want, got)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
	}
}

func TestHumanPayloadUnsupported(t *testing.T) {
	w := httptest.NewRecorder()
	HumanPayload{T: types.Complex128}.EncodeAndRespond(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 500 {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
