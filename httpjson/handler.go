package httpjson

import (
	"context"
	"net/http"
	"reflect"

	"golang.org/x/xerrors"
)

// ErrorWriter writes err to w as an HTTP response.
type ErrorWriter func(ctx context.Context, w http.ResponseWriter, err error)

type handler struct {
	fv      reflect.Value
	inType  reflect.Type // nil when f takes only a context
	hasOut  bool
	errIdx  int // index of error return, -1 if none
	errFunc ErrorWriter
}

type rwKey int

// rwContextKey carries the underlying ResponseWriter so handler
// functions can adjust the status code of an otherwise-OK response
// (used by long polls that time out with 202).
var rwContextKey rwKey = 0

// ResponseWriter returns the ResponseWriter for the request being
// handled in ctx. It is only valid inside a Handler function and
// only until the function returns.
func ResponseWriter(ctx context.Context) http.ResponseWriter {
	w, _ := ctx.Value(rwContextKey).(http.ResponseWriter)
	return w
}

// Handler returns an http.Handler that decodes the request body as
// JSON into f's second argument and encodes f's first return value
// as the JSON response. The signature of f must be
//
//	func(context.Context) error
//	func(context.Context, Req) error
//	func(context.Context, Req) Resp
//	func(context.Context, Req) (Resp, error)
//
// for concrete types Req and Resp. Any returned error is passed
// to errFunc.
func Handler(f interface{}, errFunc ErrorWriter) (http.Handler, error) {
	fv := reflect.ValueOf(f)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, xerrors.New("httpjson: not a function")
	}
	if ft.NumIn() < 1 || ft.NumIn() > 2 || ft.In(0) != contextType {
		return nil, xerrors.New("httpjson: must take (context.Context[, Req])")
	}
	h := &handler{fv: fv, errIdx: -1, errFunc: errFunc}
	if ft.NumIn() == 2 {
		h.inType = ft.In(1)
	}
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			h.errIdx = 0
		} else {
			h.hasOut = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, xerrors.New("httpjson: second return must be error")
		}
		h.hasOut = true
		h.errIdx = 1
	default:
		return nil, xerrors.New("httpjson: too many return values")
	}
	return h, nil
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := context.WithValue(req.Context(), rwContextKey, w)

	args := []reflect.Value{reflect.ValueOf(ctx)}
	if h.inType != nil {
		inPtr := reflect.New(h.inType)
		err := Read(req.Body, inPtr.Interface())
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		args = append(args, inPtr.Elem())
	}

	rv := h.fv.Call(args)
	if h.errIdx >= 0 {
		if err, _ := rv[h.errIdx].Interface().(error); err != nil {
			h.errFunc(ctx, w, err)
			return
		}
	}
	var out interface{} = struct{}{}
	if h.hasOut {
		out = rv[0].Interface()
	}
	Write(ctx, w, 200, out)
}
