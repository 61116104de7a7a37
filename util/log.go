package util

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const consoleLogPath = "console"

// InitLog parses and sets log-level input
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != consoleLogPath {
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	} else {
		log.SetOutput(os.Stdout)
	}

	log.SetFormatter(&CustomFormatter{
		TextFormatter: log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		},
	})
	log.SetLevel(level)
	return nil
}

// CustomFormatter prefixes entries with the process role when one is attached to the entry
type CustomFormatter struct {
	log.TextFormatter
}

// RoleKey is the entry field naming the process (daemon or ui) that produced the log line
const RoleKey = "role"

func (f *CustomFormatter) Format(entry *log.Entry) ([]byte, error) {
	role, ok := entry.Data[RoleKey].(string)
	if !ok || role == "" {
		return f.TextFormatter.Format(entry)
	}

	data := make(log.Fields, len(entry.Data))
	for k, v := range entry.Data {
		if k != RoleKey {
			data[k] = v
		}
	}

	clone := entry.Dup()
	clone.Data = data
	clone.Message = "[" + role + "] " + entry.Message
	clone.Level = entry.Level
	clone.Time = entry.Time
	return f.TextFormatter.Format(clone)
}
