// Package flog is MiniPlex's logger, adapted from the teacher's
// internal/flog: a buffered-channel async writer with a dropped-message
// counter, extended per spec.md §6's logging options to fan out to an
// independently-leveled console sink and an independently-leveled,
// size/count-rotated file sink (gopkg.in/natefinch/lumberjack.v2 — the
// rotation library the pack's go-ethereum and erigon manifests both
// carry; no pack example hand-rolls log rotation, so this is the one
// place MiniPlex reaches outside the teacher's own dependency set for
// an ambient concern).
package flog

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const None Level = -1

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var levelStrings = [...]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
	Fatal: "FATAL",
}

func (l Level) String() string {
	if int(l) >= 0 && int(l) < len(levelStrings) {
		return levelStrings[l]
	}
	if l == None {
		return "None"
	}
	return "UNKNOWN"
}

type entry struct {
	level Level
	line  string
}

var (
	consoleLevel = Info
	fileLevel    = None

	logCh   = make(chan entry, 1024)
	dropped atomic.Uint64

	fileSink io.WriteCloser
)

// Dropped returns the number of log messages dropped due to the
// internal channel being full -- a resource-pressure signal worth
// surfacing the same way the teacher does.
func Dropped() uint64 { return dropped.Load() }

// Configure sets the console and file levels and, if filePath is
// non-empty, opens a rotating file sink (spec.md §6: file path,
// rotation size in MiB, rotation file count). Must be called once
// before any Debugf/Infof/etc. calls that should reach the file sink.
func Configure(console, file Level, filePath string, rotationSizeMiB, rotationCount int) {
	consoleLevel = console
	fileLevel = file

	if filePath != "" && file != None {
		fileSink = &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    rotationSizeMiB,
			MaxBackups: rotationCount,
			Compress:   false,
		}
	}

	go drain()
}

func drain() {
	for e := range logCh {
		if consoleLevel != None && e.level >= consoleLevel {
			fmt.Fprint(os.Stdout, e.line)
		}
		if fileSink != nil && fileLevel != None && e.level >= fileLevel {
			io.WriteString(fileSink, e.line)
		}
	}
}

func logf(level Level, format string, args ...any) {
	if (consoleLevel == None || level < consoleLevel) && (fileSink == nil || fileLevel == None || level < fileLevel) {
		return
	}

	if len(logCh) == cap(logCh) {
		dropped.Add(1)
		return
	}

	var levelStr string
	if int(level) < len(levelStrings) {
		levelStr = levelStrings[level]
	} else {
		levelStr = "UNKNOWN"
	}

	now := time.Now().Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s\n", now, levelStr, fmt.Sprintf(format, args...))

	select {
	case logCh <- entry{level: level, line: line}:
	default:
		dropped.Add(1)
	}
}

func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }
func Fatalf(format string, args ...any) {
	logf(Fatal, format, args...)
	time.Sleep(10 * time.Millisecond)
	os.Exit(1)
}

// Close drains the async writer and closes the file sink, if any.
func Close() {
	close(logCh)
	if fileSink != nil {
		fileSink.Close()
	}
}
