package logging

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugEnv enables debug output when set to "debug" or "trace".
const DebugEnv = "C0LOR_MEM_DEBUG"

type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
	debug  bool
}

func New(path string) (*Logger, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		file:   file,
		logger: log.New(file, "", 0),
		debug:  debugEnabled(),
	}, nil
}

// NewWriter logs to w instead of a file. Close is a no-op.
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		logger: log.New(w, "", 0),
		debug:  debugEnabled(),
	}
}

// Nop discards everything.
func Nop() *Logger {
	return NewWriter(io.Discard)
}

func debugEnabled() bool {
	debugEnv := os.Getenv(DebugEnv)
	return debugEnv == "debug" || debugEnv == "trace"
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level, msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.mu.Lock()
	l.logger.Printf("[%s] %s: %s", timestamp, level, msg)
	l.mu.Unlock()
}

func (l *Logger) Info(msg string) {
	l.log("INFO", msg)
}

func (l *Logger) Warn(msg string) {
	l.log("WARN", msg)
}

func (l *Logger) Error(msg string) {
	l.log("ERROR", msg)
}

func (l *Logger) Debug(msg string) {
	if l.debug {
		l.log("DEBUG", msg)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// LineWriter returns a writer that logs every complete line written to it
// at INFO, tagged with prefix. Close flushes a trailing partial line.
func (l *Logger) LineWriter(prefix string) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			l.Infof("[%s] %s", prefix, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			l.Errorf("[%s] read output: %v", prefix, err)
			// Keep draining so the writer side never blocks.
			_, _ = io.Copy(io.Discard, pr)
		}
	}()
	return &lineWriter{pw: pw, done: done}
}

type lineWriter struct {
	pw   *io.PipeWriter
	done chan struct{}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *lineWriter) Close() error {
	err := w.pw.Close()
	<-w.done
	return err
}
