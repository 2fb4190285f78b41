// -----------------------------------------------------------------------
// Crash Protection - Panic-protected goroutines and crash file generation
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ternarybob/arbor"
)

// CrashLogDir is the directory where crash files are written
var CrashLogDir = "./logs"

// SafeGo runs a function in a goroutine with panic recovery. Panics are
// logged and written to a crash file but do not take the service down.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 16*1024)
				n := runtime.Stack(buf, false)
				stack := string(buf[:n])

				if logger != nil {
					logger.Error().
						Str("goroutine", name).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", stack).
						Msg("Recovered from panic in goroutine - continuing service operation")
				} else {
					fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stack)
				}

				WriteCrashFile(r, stack)
			}
		}()

		fn()
	}()
}

// WriteCrashFile writes a crash report for post-mortem analysis and returns
// the path of the written file, or "" if the write failed
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create log directory: %v\n", err)
		return ""
	}

	timestamp := time.Now().Format("2006-01-02T15-04-05")
	crashPath := filepath.Join(CrashLogDir, fmt.Sprintf("crash-%s.log", timestamp))

	report := fmt.Sprintf(
		"=== CIRCLESIFT CRASH REPORT ===\nTime: %s\nVersion: %s\n\n=== PANIC VALUE ===\n%v\n\n=== STACK TRACE ===\n%s\n\n=== SYSTEM INFO ===\nNumGoroutine: %d\nGOOS: %s\nGOARCH: %s\n",
		time.Now().Format(time.RFC3339),
		GetFullVersion(),
		panicVal,
		stackTrace,
		runtime.NumGoroutine(),
		runtime.GOOS,
		runtime.GOARCH,
	)

	if err := os.WriteFile(crashPath, []byte(report), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n%s", err, report)
		return ""
	}

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", crashPath)
	return crashPath
}
