package log

import (
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
)

var (
	helperMu sync.Mutex
	helpers  = map[string]bool{}
)

// Helper marks the calling function as a log helper function.
// Helpers are skipped when computing the at=[file:line] field,
// so the entry is attributed to the helper's caller instead.
func Helper() {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return
	}
	f := runtime.FuncForPC(pc)
	if f == nil {
		return
	}
	helperMu.Lock()
	helpers[f.Name()] = true
	helperMu.Unlock()
}

// caller returns file:line of the nearest frame
// that is not a registered helper.
func caller() string {
	for skip := 2; skip < 10; skip++ {
		pc, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		f := runtime.FuncForPC(pc)
		if f != nil && isHelper(f.Name()) {
			continue
		}
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}
	return "?"
}

func isHelper(name string) bool {
	helperMu.Lock()
	defer helperMu.Unlock()
	return helpers[name]
}
