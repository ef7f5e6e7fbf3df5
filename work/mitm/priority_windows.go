//go:build windows

package mitm

import "golang.org/x/sys/windows"

// raisePriority bumps the engine process priority so listener latency stays
// low while a cache build is running. Failure is ignored, running at normal
// priority is fine.
func raisePriority() {
	windows.SetPriorityClass(windows.CurrentProcess(), windows.HIGH_PRIORITY_CLASS)
}
