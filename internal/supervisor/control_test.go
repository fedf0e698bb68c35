// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
)

// controlDouble is a chi-routed stand-in for the core's control endpoint,
// recording every config path pushed to PUT /configs. It replaces a real
// core binary's HTTP control surface in tests that only need to observe
// what the supervisor pushes to it.
type controlDouble struct {
	mu     sync.Mutex
	paths  []string
	fail   bool
	server *httptest.Server
}

func newControlDouble() *controlDouble {
	d := &controlDouble{}
	r := chi.NewRouter()
	r.Put("/configs", d.putConfig)
	d.server = httptest.NewServer(r)
	return d
}

func (d *controlDouble) putConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	fail := d.fail
	if !fail {
		d.paths = append(d.paths, body.Path)
	}
	d.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (d *controlDouble) URL() string { return d.server.URL + "/configs" }

func (d *controlDouble) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out
}

func (d *controlDouble) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *controlDouble) Close() { d.server.Close() }
