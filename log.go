// Structured-ish logging: a single serialized writer with a level
// gate, still the teacher's one-line-per-call style rather than a
// structured logging library — adapted to also take its level from
// config.go's YAML log.level, alongside the teacher's original env
// var toggles (LOG_DEBUG, LOG_REQUESTS), which remain honored.

package main

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var logMutex sync.Mutex

type logLevel int

const (
	logLevelDebug logLevel = iota
	logLevelInfo
	logLevelWarning
	logLevelError
)

var currentLogLevel = logLevelInfo

// SetLogLevel applies config.go's log.level string; unrecognized
// values fall back to info rather than erroring at startup.
func SetLogLevel(level string) {
	switch level {
	case "debug":
		currentLogLevel = logLevelDebug
	case "warning":
		currentLogLevel = logLevelWarning
	case "error":
		currentLogLevel = logLevelError
	default:
		currentLogLevel = logLevelInfo
	}
}

func logLine(line string) {
	tm := time.Now()
	logMutex.Lock()
	defer logMutex.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), line)
}

func logWarning(line string) {
	if currentLogLevel > logLevelWarning {
		return
	}
	logLine("[WARNING] " + line)
}

func logInfo(line string) {
	if currentLogLevel > logLevelInfo {
		return
	}
	logLine("[INFO] " + line)
}

func logError(err error) {
	logLine("[ERROR] " + err.Error())
}

var logRequestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

func logRequest(connID uint64, ip string, line string) {
	if !logRequestsEnabled || currentLogLevel > logLevelInfo {
		return
	}
	logLine("[REQUEST] #" + strconv.FormatUint(connID, 10) + " (" + ip + ") " + line)
}

var logDebugEnabled = os.Getenv("LOG_DEBUG") == "YES"

func logDebug(line string) {
	if !logDebugEnabled && currentLogLevel > logLevelDebug {
		return
	}
	logLine("[DEBUG] " + line)
}

func logDebugConnection(connID uint64, ip string, line string) {
	if !logDebugEnabled && currentLogLevel > logLevelDebug {
		return
	}
	logLine("[DEBUG] #" + strconv.FormatUint(connID, 10) + " (" + ip + ") " + line)
}
