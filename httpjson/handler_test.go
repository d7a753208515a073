package httpjson

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/xerrors"
)

type echoReq struct {
	N int
}

type echoResp struct {
	N int
}

func errFunc(ctx context.Context, w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), 500)
}

func TestHandlerEcho(t *testing.T) {
	h, err := Handler(func(ctx context.Context, req echoReq) (echoResp, error) {
		return echoResp{N: req.N + 1}, nil
	}, errFunc)
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader(`{"N": 41}`)))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"N":42}` {
		t.Errorf("body = %q, want {\"N\":42}", got)
	}
}

func TestHandlerError(t *testing.T) {
	h, err := Handler(func(ctx context.Context, req echoReq) error {
		return xerrors.New("boom")
	}, errFunc)
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader(`{}`)))
	if w.Code != 500 {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHandlerBadBody(t *testing.T) {
	h, err := Handler(func(ctx context.Context, req echoReq) error { return nil }, errFunc)
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader(`nonsense`)))
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandlerBadSignature(t *testing.T) {
	cases := []interface{}{
		42,
		func() {},
		func(n int) error { return nil },
		func(ctx context.Context, a, b int) error { return nil },
		func(ctx context.Context) (int, int) { return 0, 0 },
	}

	for _, f := range cases {
		if _, err := Handler(f, errFunc); err == nil {
			t.Errorf("Handler(%T) err = nil, want error", f)
		}
	}
}

func TestResponseWriterInContext(t *testing.T) {
	h, err := Handler(func(ctx context.Context) error {
		if ResponseWriter(ctx) == nil {
			return xerrors.New("no response writer in context")
		}
		return nil
	}, errFunc)
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader(`{}`)))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
