// Package logger is the structured, area based logging used by the compiler,
// the build store and the compile server.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antibyte/flail/pkg/configuration"
)

// LogLevel orders log entries by severity.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// LogArea groups log entries by subsystem. Each area can be switched on or
// off in the [Debug] section with log_<area>.
type LogArea string

const (
	AreaCompiler  LogArea = "compiler"
	AreaEmit      LogArea = "emit"
	AreaDatabase  LogArea = "database"
	AreaServer    LogArea = "server"
	AreaWebSocket LogArea = "websocket"
	AreaAuth      LogArea = "auth"
	AreaSecurity  LogArea = "security"
	AreaConfig    LogArea = "config"
	AreaGeneral   LogArea = "general"
)

var allAreas = []LogArea{
	AreaCompiler, AreaEmit, AreaDatabase, AreaServer, AreaWebSocket,
	AreaAuth, AreaSecurity, AreaConfig, AreaGeneral,
}

// Logger writes log entries to a size-rotated file.
type Logger struct {
	enabled     int32 // atomic bool
	level       int32 // atomic LogLevel
	areaEnabled map[LogArea]*int32

	mutex         sync.Mutex
	out           io.Writer
	file          *os.File
	logPath       string
	maxSizeMB     int64
	rotationCount int
	currentSize   int64
}

var (
	globalLogger *Logger
	initOnce     sync.Once
)

// Initialize sets up the global logger from the [Debug] configuration
// section. Logging calls made before are dropped.
func Initialize() error {
	var err error
	initOnce.Do(func() {
		var l *Logger
		l, err = newLogger()
		if err == nil {
			globalLogger = l
		}
	})
	return err
}

// SetOutput replaces the global logger with one writing to w, logging every
// area at level and above. Used by tests and by the CLI's verbose mode.
func SetOutput(w io.Writer, level LogLevel) {
	l := &Logger{
		areaEnabled: make(map[LogArea]*int32),
		out:         w,
		enabled:     1,
		level:       int32(level),
	}
	for _, area := range allAreas {
		l.areaEnabled[area] = new(int32)
		*l.areaEnabled[area] = 1
	}
	globalLogger = l
}

func newLogger() (*Logger, error) {
	l := &Logger{
		areaEnabled: make(map[LogArea]*int32),
	}
	for _, area := range allAreas {
		l.areaEnabled[area] = new(int32)
	}

	l.loadConfig()

	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) loadConfig() {
	enabled := configuration.GetBool("Debug", "enable_debug_logging", true)
	atomic.StoreInt32(&l.enabled, boolToInt32(enabled))

	level := parseLogLevel(configuration.GetString("Debug", "log_level", "INFO"))
	atomic.StoreInt32(&l.level, int32(level))

	l.logPath = configuration.GetString("Debug", "log_file", "flail.log")
	l.maxSizeMB = int64(configuration.GetInt("Debug", "max_log_size_mb", 10))
	l.rotationCount = configuration.GetInt("Debug", "log_rotation_count", 3)

	for area, flag := range l.areaEnabled {
		on := configuration.GetBool("Debug", "log_"+string(area), false)
		atomic.StoreInt32(flag, boolToInt32(on))
	}
}

func (l *Logger) openLogFile() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	l.file = file
	l.out = file
	if stat, err := file.Stat(); err == nil {
		l.currentSize = stat.Size()
	}
	return nil
}

// rotate shifts flail.log -> flail.log.1 -> ... and starts a fresh file.
// The caller holds the mutex.
func (l *Logger) rotate() error {
	if l.file == nil {
		return nil
	}
	l.file.Close()
	l.file = nil

	for i := l.rotationCount - 1; i >= 1; i-- {
		oldName := fmt.Sprintf("%s.%d", l.logPath, i)
		newName := fmt.Sprintf("%s.%d", l.logPath, i+1)
		if i == l.rotationCount-1 {
			os.Remove(newName)
		}
		os.Rename(oldName, newName)
	}
	os.Rename(l.logPath, l.logPath+".1")

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		l.out = nil
		return err
	}
	l.file = file
	l.out = file
	l.currentSize = 0
	return nil
}

func (l *Logger) shouldLog(level LogLevel, area LogArea) bool {
	if atomic.LoadInt32(&l.enabled) == 0 {
		return false
	}
	if atomic.LoadInt32(&l.level) > int32(level) {
		return false
	}
	if flag, ok := l.areaEnabled[area]; ok {
		return atomic.LoadInt32(flag) != 0
	}
	return false
}

func (l *Logger) writeLog(level LogLevel, area LogArea, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	_, file, line, _ := runtime.Caller(3)
	entry := fmt.Sprintf("[%s] %s [%s:%d] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level,
		filepath.Base(file),
		line,
		strings.ToUpper(string(area)),
		message)

	l.mutex.Lock()
	if l.out != nil {
		n, err := io.WriteString(l.out, entry)
		if err == nil && l.file != nil {
			l.currentSize += int64(n)
			if l.maxSizeMB > 0 && l.currentSize > l.maxSizeMB*1024*1024 {
				l.rotate()
			}
		}
	}
	l.mutex.Unlock()

	if level >= WARN && l.file != nil {
		log.Printf("[%s] [%s] %s", level, strings.ToUpper(string(area)), message)
	}
}

func logAt(level LogLevel, area LogArea, format string, args ...interface{}) {
	if l := globalLogger; l != nil && l.shouldLog(level, area) {
		l.writeLog(level, area, format, args...)
	}
}

// Debug writes a debug entry.
func Debug(area LogArea, format string, args ...interface{}) { logAt(DEBUG, area, format, args...) }

// Info writes an info entry.
func Info(area LogArea, format string, args ...interface{}) { logAt(INFO, area, format, args...) }

// Warn writes a warning.
func Warn(area LogArea, format string, args ...interface{}) { logAt(WARN, area, format, args...) }

// Error writes an error entry.
func Error(area LogArea, format string, args ...interface{}) { logAt(ERROR, area, format, args...) }

// Fatal logs and terminates the process. Only main should call it.
func Fatal(area LogArea, format string, args ...interface{}) {
	if l := globalLogger; l != nil {
		l.writeLog(FATAL, area, format, args...)
	}
	log.Fatalf("[FATAL] [%s] %s", strings.ToUpper(string(area)), fmt.Sprintf(format, args...))
}

func CompilerDebug(format string, args ...interface{}) { logAt(DEBUG, AreaCompiler, format, args...) }
func CompilerInfo(format string, args ...interface{})  { logAt(INFO, AreaCompiler, format, args...) }
func CompilerWarn(format string, args ...interface{})  { logAt(WARN, AreaCompiler, format, args...) }

func DatabaseDebug(format string, args ...interface{}) { logAt(DEBUG, AreaDatabase, format, args...) }
func DatabaseInfo(format string, args ...interface{})  { logAt(INFO, AreaDatabase, format, args...) }
func DatabaseError(format string, args ...interface{}) { logAt(ERROR, AreaDatabase, format, args...) }

func ServerDebug(format string, args ...interface{}) { logAt(DEBUG, AreaServer, format, args...) }
func ServerInfo(format string, args ...interface{})  { logAt(INFO, AreaServer, format, args...) }
func ServerWarn(format string, args ...interface{})  { logAt(WARN, AreaServer, format, args...) }
func ServerError(format string, args ...interface{}) { logAt(ERROR, AreaServer, format, args...) }

func WebSocketDebug(format string, args ...interface{}) { logAt(DEBUG, AreaWebSocket, format, args...) }
func WebSocketInfo(format string, args ...interface{})  { logAt(INFO, AreaWebSocket, format, args...) }
func WebSocketError(format string, args ...interface{}) { logAt(ERROR, AreaWebSocket, format, args...) }

func AuthInfo(format string, args ...interface{})  { logAt(INFO, AreaAuth, format, args...) }
func AuthWarn(format string, args ...interface{})  { logAt(WARN, AreaAuth, format, args...) }
func AuthError(format string, args ...interface{}) { logAt(ERROR, AreaAuth, format, args...) }

func SecurityInfo(format string, args ...interface{}) { logAt(INFO, AreaSecurity, format, args...) }
func SecurityWarn(format string, args ...interface{}) { logAt(WARN, AreaSecurity, format, args...) }

func ConfigInfo(format string, args ...interface{}) { logAt(INFO, AreaConfig, format, args...) }
func ConfigWarn(format string, args ...interface{}) { logAt(WARN, AreaConfig, format, args...) }

// ReloadConfig re-reads levels and area switches from the configuration.
func ReloadConfig() error {
	if globalLogger == nil {
		return fmt.Errorf("logger not initialized")
	}
	globalLogger.loadConfig()
	return nil
}

// EnableArea switches logging on for an area.
func EnableArea(area LogArea) { setArea(area, 1) }

// DisableArea switches logging off for an area.
func DisableArea(area LogArea) { setArea(area, 0) }

func setArea(area LogArea, v int32) {
	if globalLogger == nil {
		return
	}
	if flag, ok := globalLogger.areaEnabled[area]; ok {
		atomic.StoreInt32(flag, v)
	}
}

// AreaEnabled reports whether an area is logged.
func AreaEnabled(area LogArea) bool {
	if globalLogger == nil {
		return false
	}
	if flag, ok := globalLogger.areaEnabled[area]; ok {
		return atomic.LoadInt32(flag) != 0
	}
	return false
}

// Areas lists all log areas.
func Areas() []LogArea {
	out := make([]LogArea, len(allAreas))
	copy(out, allAreas)
	return out
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close flushes and closes the log file.
func Close() {
	l := globalLogger
	if l == nil {
		return
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file != nil {
		l.file.Sync()
		l.file.Close()
		l.file = nil
	}
	l.out = nil
}
