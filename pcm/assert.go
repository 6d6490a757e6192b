package pcm

import "fmt"

// assert aborts on a violated precondition. Per §7, precondition
// violations (nil stream, calling a data-path op before setup, wrong
// access mode) are programmer errors, not runtime errors — they panic
// rather than returning an error code.
func assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("pcm: assertion failed: "+format, args...))
	}
}
