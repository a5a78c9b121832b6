package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	// Tag used to filter and classify log messages.
	Tag string

	// Explicit level, set by WithLevel. Otherwise the level is looked up
	// from the tag on each call.
	level    Level
	hasLevel bool

	out   io.Writer
	color bool

	// Prevents messages from different goroutines from interleaving.
	// Shared by all derived loggers.
	mu *sync.Mutex
}

// Write to stderr by default, colored if stderr is a terminal.
var DefaultLogger = New(os.Stderr)

// New creates an untagged logger writing to out.
func New(out io.Writer) *Logger {
	return &Logger{out: out, color: isTerminal(out), mu: new(sync.Mutex)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetDestination overrides the destination for this logger and recomputes
// whether to emit color.
func (log *Logger) SetDestination(out io.Writer) {
	log.mu.Lock()
	log.out = out
	log.color = isTerminal(out)
	log.mu.Unlock()
}

// WithTag derives a new logger with the given tag.
func (log *Logger) WithTag(tag string) *Logger {
	return &Logger{Tag: tag, out: log.out, color: log.color, mu: log.mu}
}

// WithLevel derives a logger pinned to the given level, ignoring LOGLEVEL.
func (log *Logger) WithLevel(level Level) *Logger {
	l := *log
	l.level = level
	l.hasLevel = true
	return &l
}

// Level returns the level at which this logger currently logs. Messages
// intended for a more verbose level are dropped.
func (log *Logger) Level() Level {
	if log.hasLevel {
		return log.level
	}
	return determineLevel(log.Tag)
}

// Enabled reports whether a message at the given level would be written.
func (log *Logger) Enabled(level Level) bool {
	return level <= log.Level()
}

// Wrapper for []byte that implements io.Writer. Simpler and cheaper than
// bytes.Buffer.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

// Shared by all loggers. Capacity 256 covers most log lines.
var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 0, 256)
	},
}

// Log a message at the given level. Include the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if !log.Enabled(level) {
		return
	}

	buf := bufPool.Get().(buffer)
	defer func() { bufPool.Put(buf[:0]) }()

	if log.color {
		buf.Write(ansiWhite)
	}
	buf = time.Now().AppendFormat(buf, timestampFormat)

	if log.color {
		fmt.Fprintf(&buf, " %s%c/%s", level.color(), level.letter(), log.Tag)
	} else {
		fmt.Fprintf(&buf, " %c/%s", level.letter(), log.Tag)
	}

	// Get the caller of Error()/Warn()/Info()/etc.
	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}
	fmt.Fprintf(&buf, "[%s:%d] ", filepath.Base(file), line)
	if log.color {
		buf.Write(ansiReset)
	}

	fmt.Fprintf(&buf, format, a...)
	if n := len(format); n == 0 || format[n-1] != '\n' {
		buf.writeByte('\n')
	}

	log.mu.Lock()
	_, err := log.out.Write(buf)
	log.mu.Unlock()
	if err != nil {
		panic(fmt.Sprintf("Failed to log to %v: %v", log.out, err))
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

// Trace logs at numeric level n, for output more verbose than Debug.
func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
