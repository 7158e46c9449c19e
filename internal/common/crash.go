// -----------------------------------------------------------------------
// Crash Protection - Fatal error handling and crash file generation
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is where crash reports land. Set once during startup.
var CrashLogDir = "./logs"

var processStart = time.Now()

// InstallCrashHandler prepares the crash report directory. Call at the
// top of main together with a deferred RecoverWithCrashFile.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to create log directory: %v\n", err)
	}
}

// RecoverWithCrashFile is the deferred half of crash protection: it
// recovers a panic, writes the report, and exits non-zero.
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, GetStackTrace())
		os.Exit(1)
	}
}

// WriteCrashFile writes a full crash report and returns its path. On any
// file error the report goes to stderr instead so nothing is lost.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	crashPath := filepath.Join(CrashLogDir,
		fmt.Sprintf("ramus-crash-%s.log", time.Now().Format("2006-01-02T15-04-05")))

	var report bytes.Buffer
	section := func(title string, body func()) {
		fmt.Fprintf(&report, "--- %s ---\n", title)
		body()
		report.WriteString("\n")
	}

	fmt.Fprintf(&report, "ramus crash report\n")
	fmt.Fprintf(&report, "time:    %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&report, "version: %s\n", GetFullVersion())
	fmt.Fprintf(&report, "uptime:  %s\n\n", time.Since(processStart).Round(time.Second))

	section("panic", func() {
		fmt.Fprintf(&report, "%v\n", panicVal)
	})
	section("stack", func() {
		report.WriteString(stackTrace)
	})
	section("goroutines", func() {
		report.WriteString(GetAllGoroutineStacks())
	})
	section("process", func() {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		fmt.Fprintf(&report, "goroutines: %d\n", runtime.NumGoroutine())
		fmt.Fprintf(&report, "gomaxprocs: %d\n", runtime.GOMAXPROCS(0))
		fmt.Fprintf(&report, "platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(&report, "alloc_mb:   %d\n", mem.Alloc/1024/1024)
		fmt.Fprintf(&report, "sys_mb:     %d\n", mem.Sys/1024/1024)
		fmt.Fprintf(&report, "num_gc:     %d\n", mem.NumGC)
	})

	// O_TRUNC + Sync: the process is about to die, buffered IO may never flush
	file, err := os.OpenFile(crashPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to create crash file: %v\n", err)
		fmt.Fprint(os.Stderr, report.String())
		return ""
	}
	if _, err := file.Write(report.Bytes()); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to write crash file: %v\n", err)
		fmt.Fprint(os.Stderr, report.String())
	}
	file.Sync()
	file.Close()

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - report saved to: %s !!!\n", crashPath)
	fmt.Fprintf(os.Stderr, "panic: %v\n", panicVal)

	return crashPath
}

// GetStackTrace returns the current goroutine's stack.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// GetAllGoroutineStacks dumps every goroutine, growing the buffer until
// the dump fits (capped at 64MB).
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
		if len(buf) > 64*1024*1024 {
			return string(buf[:runtime.Stack(buf, true)])
		}
	}
}
