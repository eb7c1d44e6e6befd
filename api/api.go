// Package api exposes a running device over HTTP: status and sample
// listings as JSON, live samples over a websocket, Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/tinysil/upt/device"
	"github.com/tinysil/upt/journal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type handler struct {
	dev *device.Device
}

// New returns the HTTP handler serving the given device.
func New(dev *device.Device) http.Handler {
	h := &handler{dev: dev}

	r := mux.NewRouter()
	r.HandleFunc("/v1/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/v1/samples", h.samples).Methods(http.MethodGet)
	r.HandleFunc("/v1/samples/stream", h.stream).Methods(http.MethodGet)
	r.HandleFunc("/v1/metrics", h.metrics).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("could not write response")
	}
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.dev.Status())
}

func (h *handler) samples(w http.ResponseWriter, r *http.Request) {
	recs, err := h.dev.Samples()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []journal.Record{}
	}
	writeJSON(w, recs)
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	vm.WritePrometheus(w, false)
}

// stream upgrades to a websocket and pushes every newly collected sample
// as a JSON message until the peer goes away.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	sub, cancel := h.dev.Subscribe()
	defer cancel()

	// drain the reader so close frames are processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case rec, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		}
	}
}
