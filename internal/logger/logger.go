package logger

import (
	"log"
	"os"
	"strings"
)

// Log levels, most to least severe.
const (
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
)

var levelOrder = []string{LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace}

// current verbosity for the process; bridges set it once at startup
var currentLevel = LevelInfo

// Setup configures the process-wide log level and optional log file.
// An unknown level falls back to info.
func Setup(level, file string) {
	level = strings.ToLower(level)
	if indexOf(level) == -1 {
		level = LevelInfo
	}
	currentLevel = level

	if file != "" {
		// 0600 so credentials that leak into messages stay owner-readable
		out, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Printf("Failed to open log file %s: %v", file, err)
			return
		}
		log.SetOutput(out)
	}
}

func indexOf(level string) int {
	for i, l := range levelOrder {
		if l == level {
			return i
		}
	}
	return -1
}

// shouldLog checks if a message at messageLevel passes the current level
func shouldLog(messageLevel string) bool {
	mi := indexOf(messageLevel)
	ci := indexOf(currentLevel)
	if mi == -1 || ci == -1 {
		return true
	}
	return mi <= ci
}

// LogStartup logs startup messages that are always visible regardless of level
func LogStartup(format string, args ...interface{}) {
	log.Printf("🔧 "+format, args...)
}

// LogError logs error messages
func LogError(format string, args ...interface{}) {
	if shouldLog(LevelError) {
		log.Printf("❌ "+format, args...)
	}
}

// LogWarn logs warning messages
func LogWarn(format string, args ...interface{}) {
	if shouldLog(LevelWarn) {
		log.Printf("⚠️ "+format, args...)
	}
}

// LogInfo logs info messages
func LogInfo(format string, args ...interface{}) {
	if shouldLog(LevelInfo) {
		log.Printf("ℹ️ "+format, args...)
	}
}

// LogDebug logs debug messages
func LogDebug(format string, args ...interface{}) {
	if shouldLog(LevelDebug) {
		log.Printf("🔧 "+format, args...)
	}
}

// LogTrace logs trace messages
func LogTrace(format string, args ...interface{}) {
	if shouldLog(LevelTrace) {
		log.Printf("🔍 "+format, args...)
	}
}

// IsDebugEnabled reports whether debug logging is enabled
func IsDebugEnabled() bool {
	return shouldLog(LevelDebug)
}
