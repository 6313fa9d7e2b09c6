// pkg/logger/formatter.go

package logger

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type CustomFormatter struct {
	TimestampFormat string
	FullTimestamp   bool
}

const (
	// Colors
	red    = 31
	yellow = 33
	blue   = 36
	gray   = 37
	green  = 32
)

func getColorByLevel(level logrus.Level) int {
	switch level {
	case logrus.ErrorLevel:
		return red
	case logrus.WarnLevel:
		return yellow
	case logrus.InfoLevel:
		return blue
	case logrus.DebugLevel:
		return gray
	default:
		return blue
	}
}

func getColorByOperation(op string) int {
	switch strings.ToUpper(op) {
	case "GET":
		return blue
	case "SET":
		return green
	case "DEL", "SCAN":
		return red
	default:
		return gray
	}
}

func colorize(color int, msg string) string {
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, msg)
}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buf *bytes.Buffer
	if entry.Buffer != nil {
		buf = entry.Buffer
	} else {
		buf = &bytes.Buffer{}
	}

	// Timestamp
	timestamp := entry.Time.Format(time.RFC3339)
	if !f.FullTimestamp {
		splitted := strings.Split(timestamp, "T")
		if len(splitted) > 0 {
			timestamp = splitted[1]
		}
	}

	// Level
	level := strings.ToUpper(entry.Level.String())
	levelColor := getColorByLevel(entry.Level)
	coloredLevel := colorize(levelColor, fmt.Sprintf("%-7s", level))

	// Cache operation fields first, in a stable order
	fields := make([]string, 0)
	if op, ok := entry.Data["operation"]; ok {
		opColor := getColorByOperation(fmt.Sprint(op))
		fields = append(fields, colorize(opColor, fmt.Sprintf("operation=%-5s", op)))
	}

	if key, ok := entry.Data["key"]; ok {
		fields = append(fields, fmt.Sprintf("key=%s", key))
	}

	if duration, ok := entry.Data["duration"]; ok {
		fields = append(fields, fmt.Sprintf("duration=%v", duration))
	}

	if hitRate, ok := entry.Data["hit_rate"]; ok {
		fields = append(fields, fmt.Sprintf("hit_rate=%v", hitRate))
	}

	// Add remaining fields
	for k, v := range entry.Data {
		if k != "operation" && k != "key" && k != "duration" && k != "hit_rate" {
			fields = append(fields, fmt.Sprintf("%s=%v", k, v))
		}
	}

	// File and function info in debug mode
	if entry.HasCaller() {
		fields = append(fields, colorize(gray, fmt.Sprintf("file=%s:%d", entry.Caller.File, entry.Caller.Line)))
		fields = append(fields, colorize(gray, fmt.Sprintf("func=%s", entry.Caller.Function)))
	}

	// Format final output
	if len(fields) > 0 {
		fmt.Fprintf(buf, "%s %s %s | %s\n",
			colorize(gray, timestamp),
			coloredLevel,
			entry.Message,
			strings.Join(fields, " "),
		)
	} else {
		fmt.Fprintf(buf, "%s %s %s\n",
			colorize(gray, timestamp),
			coloredLevel,
			entry.Message,
		)
	}

	return buf.Bytes(), nil
}
