package types

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/journald"
)

func isJournaldAvailable() bool {
	conn, err := net.Dial("unixgram", "/run/systemd/journal/socket")
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

// NewMkusbLogger creates a new logger with the given name and level.
// The level is used to set the log level, defaulting to info
// The log level can be overridden by setting the environment variable $NAME_DEBUG to any parseable value.
// If quiet is true, the logger will not log to the console.
func NewMkusbLogger(name, level string, quiet bool) MkusbLogger {
	var loggers []io.Writer
	var l zerolog.Level
	var fileLock *flock.Flock
	var logfile *os.File
	var err error

	// Prefer journald, fall back to a log file
	if isJournaldAvailable() {
		loggers = append(loggers, journald.NewJournalDWriter())
	} else {
		logName := fmt.Sprintf("%s.log", name)
		_ = os.MkdirAll("/var/log/mkusb/", os.ModeDir|os.ModePerm)
		logFileName := filepath.Join("/var/log/mkusb/", logName)

		logfile, err = os.OpenFile(logFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			loggers = append(loggers, zerolog.ConsoleWriter{Out: logfile, TimeFormat: time.RFC3339, NoColor: true})
		}

		fileLock = flock.New(logFileName + ".lock")
	}

	if !quiet {
		loggers = append(loggers, zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = time.RFC3339
		}))
	}

	// Parse the level, default to info
	l, err = zerolog.ParseLevel(level)
	if err != nil {
		l = zerolog.InfoLevel
	}

	multi := zerolog.MultiLevelWriter(loggers...)

	// Set debug level if set on ENV
	debugFromEnv := os.Getenv(fmt.Sprintf("%s_DEBUG", strings.ToUpper(name))) != ""
	if debugFromEnv {
		l = zerolog.DebugLevel
	}
	// Set trace level if set on ENV
	traceFromEnv := os.Getenv(fmt.Sprintf("%s_TRACE", strings.ToUpper(name))) != ""
	if traceFromEnv {
		l = zerolog.TraceLevel
	}
	k := MkusbLogger{
		zerolog.New(multi).With().Timestamp().Logger().Level(l),
		fileLock,
		logfile,
		isJournaldAvailable(),
	}

	// Set the finalizer to call the cleanup method
	runtime.SetFinalizer(&k, func(k *MkusbLogger) {
		k.Cleanup()
	})

	return k
}

func (k *MkusbLogger) Cleanup() {
	if k.fileLock != nil {
		k.fileLock.Lock()
		defer k.fileLock.Unlock()
	}

	if k.logFile != nil {
		k.logFile.Close()
		k.logFile = nil
	}
	if k.fileLock != nil {
		k.fileLock.Unlock()
		k.fileLock = nil
	}
}

func NewBufferLogger(b *bytes.Buffer) MkusbLogger {
	return MkusbLogger{
		zerolog.New(b).With().Timestamp().Logger(),
		nil,
		nil,
		true,
	}
}

func NewNullLogger() MkusbLogger {
	return MkusbLogger{
		zerolog.New(io.Discard).With().Timestamp().Logger(),
		nil,
		nil,
		true,
	}
}

// MkusbLogger wraps zerolog with the journald/file/console sinks the
// provisioning pipeline logs to.
type MkusbLogger struct {
	zerolog.Logger
	fileLock *flock.Flock
	logFile  *os.File
	journald bool // Whether we are logging to journald, to avoid the file lock
}

func (m *MkusbLogger) SetLevel(level string) {
	l, _ := zerolog.ParseLevel(level)
	// Level returns a child logger so we need to overwrite the logger
	m.Logger = m.Logger.Level(l)
}

func (m MkusbLogger) GetLevel() zerolog.Level {
	return m.Logger.GetLevel()
}

func (m MkusbLogger) IsDebug() bool {
	return m.Logger.GetLevel() == zerolog.DebugLevel
}

func (m MkusbLogger) Infof(tpl string, args ...interface{}) {
	if !m.journald && m.fileLock != nil {
		m.fileLock.Lock()
		defer m.fileLock.Unlock()
		// Add the pid to the log line so searching for it is easier
		tpl = fmt.Sprintf("[%v] ", os.Getpid()) + tpl
	}
	m.Logger.Info().Msg(fmt.Sprintf(tpl, args...))
}

func (m MkusbLogger) Warnf(tpl string, args ...interface{}) {
	if !m.journald && m.fileLock != nil {
		m.fileLock.Lock()
		defer m.fileLock.Unlock()
		tpl = fmt.Sprintf("[%v] ", os.Getpid()) + tpl
	}
	m.Logger.Warn().Msg(fmt.Sprintf(tpl, args...))
}

func (m MkusbLogger) Debugf(tpl string, args ...interface{}) {
	if !m.journald && m.fileLock != nil {
		m.fileLock.Lock()
		defer m.fileLock.Unlock()
		tpl = fmt.Sprintf("[%v] ", os.Getpid()) + tpl
	}
	m.Logger.Debug().Msg(fmt.Sprintf(tpl, args...))
}

func (m MkusbLogger) Errorf(tpl string, args ...interface{}) {
	if !m.journald && m.fileLock != nil {
		m.fileLock.Lock()
		defer m.fileLock.Unlock()
		tpl = fmt.Sprintf("[%v] ", os.Getpid()) + tpl
	}
	m.Logger.Error().Msg(fmt.Sprintf(tpl, args...))
}
