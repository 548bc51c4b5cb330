package logging

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the longest line kept in the recent-lines buffer.
	// The log file always receives the full line.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept for failure reports.
	MaxBufferedLines = 100

	logFileMode = 0o644
	logDirMode  = 0o755
)

// RunLog is the append-only sink for one supervised tool run.
// Every line is written to the log file; the most recent lines are also
// kept in memory so failures can be reported with context.
type RunLog struct {
	path string
	file *os.File
	w    *bufio.Writer

	mu         sync.Mutex
	buffer     []string
	bufIdx     int
	lines      int64
	errorLines int64
	closed     bool
}

// OpenRunLog creates (or appends to) the log file at path, creating parent
// directories as needed.
func OpenRunLog(path string) (*RunLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), logDirMode); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{
		path:   path,
		file:   f,
		w:      bufio.NewWriter(f),
		buffer: make([]string, MaxBufferedLines),
	}, nil
}

// WriteLine appends a single line (without trailing newline) to the log
// and writes it through to the file.
func (l *RunLog) WriteLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}
	if _, err := l.w.WriteString(line); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	// Each line reaches the file before WriteLine returns, so a worker
	// crash loses nothing already reported.
	if err := l.w.Flush(); err != nil {
		return err
	}

	kept := line
	if len(kept) > MaxLineLength {
		kept = kept[:MaxLineLength] + "...(truncated)"
	}
	l.buffer[l.bufIdx] = kept
	l.bufIdx = (l.bufIdx + 1) % MaxBufferedLines
	l.lines++
	if IsErrorLine(line) {
		l.errorLines++
	}
	return nil
}

// Flush writes buffered lines through to the file.
func (l *RunLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.w.Flush()
}

// Close flushes and closes the file. Safe to call more than once.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	flushErr := l.w.Flush()
	closeErr := l.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Path returns the log file path.
func (l *RunLog) Path() string {
	return l.path
}

// Lines returns the number of lines written.
func (l *RunLog) Lines() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// ErrorLines returns the number of lines that looked like errors.
func (l *RunLog) ErrorLines() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorLines
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (l *RunLog) RecentLines(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if l.buffer[idx] != "" {
			lines = append(lines, l.buffer[idx])
		}
	}
	return lines
}

// errorPatterns mark tool output lines worth counting as errors.
var errorPatterns = []string{
	"exception",
	"error",
	"fatal",
	"outofmemory",
}

// IsErrorLine reports whether a tool output line looks like an error.
// Stack frames ("\tat ...") are not counted separately.
func IsErrorLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "at ") {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, p := range errorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
