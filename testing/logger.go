package testing

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/arloliu/sharder/types"
)

// NewTestLogger creates a logger that writes to t.Logf as "LEVEL msg key=value ...".
//
// Lines logged by background goroutines after the test's cleanups have run are
// dropped, since testing panics on Logf after a test completes. Create the
// logger before the component it is given to, so its cleanup runs last.
func NewTestLogger(t *testing.T) types.Logger {
	l := &testLogger{t: t}
	t.Cleanup(func() { l.done.Store(true) })

	return l
}

type testLogger struct {
	t    *testing.T
	done atomic.Bool
}

var _ types.Logger = (*testLogger)(nil)

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.log("DEBUG", msg, keysAndValues)
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.log("INFO", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...any) {
	l.log("WARN", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.log("ERROR", msg, keysAndValues)
}

func (l *testLogger) Fatal(msg string, keysAndValues ...any) {
	l.t.Fatalf("FATAL %s", formatLine(msg, keysAndValues))
}

func (l *testLogger) log(level, msg string, keysAndValues []any) {
	if l.done.Load() {
		return
	}
	l.t.Logf("%s %s", level, formatLine(msg, keysAndValues))
}

// formatLine renders pairs as key=value; a trailing key without a value gets "!MISSING".
func formatLine(msg string, keysAndValues []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, "%v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, "%v=!MISSING", keysAndValues[i])
		}
	}

	return b.String()
}
