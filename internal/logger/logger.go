package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel = LevelInfo
	logger       = stdlog.New(os.Stderr, "", 0)

	// rank is the worker rank included in every line, or -1 before the
	// collective group is known. Diagnostics from N workers interleave on
	// the same stream, so the rank is the only way to attribute a line.
	rank atomic.Int64
)

func init() {
	rank.Store(-1)
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetOutput redirects log output. The default is stderr so that benchmark
// results on stdout stay machine-parseable.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetRank records the calling worker's rank for line attribution.
func SetRank(r int) {
	rank.Store(int64(r))
}

func log(level Level, format string, v ...any) {
	if level < currentLevel {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	var prefix string
	if r := rank.Load(); r >= 0 {
		prefix = fmt.Sprintf("[%s] [%s] [rank %d] ", timestamp, level.String(), r)
	} else {
		prefix = fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	}
	message := fmt.Sprintf(format, v...)
	logger.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

// Fatalf logs at error level and terminates the process. Session-level
// failures leave peers in an undefined coordination state, so the run
// aborts rather than limping on.
func Fatalf(format string, v ...any) {
	log(LevelError, format, v...)
	os.Exit(1)
}
