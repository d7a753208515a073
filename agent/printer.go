package agent

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/wepogo/hilbot/log"
)

// The printer captures the agent's own log output in a bounded ring
// so a controller (or a person with curl) can fetch recent debug
// output without shell access to the agent host.

const printerCap = 256 * 1024

type ringWriter struct {
	mu  sync.Mutex
	buf []byte
}

func (r *ringWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if n := len(r.buf); n > printerCap {
		r.buf = append(r.buf[:0], r.buf[n-printerCap:]...)
	}
	return len(p), nil
}

func (r *ringWriter) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf...)
}

var (
	printerMu   sync.Mutex
	printerRing *ringWriter
	printerPrev io.Writer
)

// printerStart begins capture. Starting twice is harmless.
func (a *Agent) printerStart(ctx context.Context) error {
	printerMu.Lock()
	defer printerMu.Unlock()
	if printerRing == nil {
		printerRing = new(ringWriter)
		printerPrev = log.Writer()
		log.SetOutput(io.MultiWriter(printerPrev, printerRing))
	}
	return nil
}

// printerStop ends capture and discards the ring. Stopping when
// already off is harmless.
func (a *Agent) printerStop(ctx context.Context) error {
	printerMu.Lock()
	defer printerMu.Unlock()
	if printerRing != nil {
		log.SetOutput(printerPrev)
		printerRing = nil
	}
	return nil
}

func (a *Agent) printerOutput(w http.ResponseWriter, req *http.Request) {
	printerMu.Lock()
	ring := printerRing
	printerMu.Unlock()
	if ring == nil {
		http.Error(w, "printer is off", 404)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(ring.bytes())
}
