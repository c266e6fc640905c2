package util

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
)

// CreateAsyncErrorChannel produces a channel for errors
func CreateAsyncErrorChannel() chan error {
	return make(chan error)
}

// WaitAndFetchError waits for every goroutine of wg, returning the first
// non-nil error any of them sent on errors. Senders never block.
func WaitAndFetchError(wg *sync.WaitGroup, errors chan error) error {
	go func() {
		defer close(errors)
		wg.Wait()
	}()
	var first error
	for err := range errors {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// GetTrace produces the string representation of a stack trace
func GetTrace() string {
	var name, file string
	var line int
	var pc [16]uintptr
	var res strings.Builder
	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			fmt.Fprintf(&res, "%s\n\t%s:%d\n", name, file, line)
		}
	}
	return res.String()
}

// FormatMultiError formats an aggregate of errors for logging, one per line
func FormatMultiError(err error) string {
	merr, ok := err.(*multierror.Error)
	if !ok {
		if err == nil {
			return ""
		}
		return fmt.Sprintf("%+v\n", err)
	}
	var msg strings.Builder
	for _, e := range merr.Errors {
		fmt.Fprintf(&msg, "%+v\n", e)
	}
	return msg.String()
}
