// Package logging formats developer-facing log lines as level=... msg="..." k=v.
package logging

import (
	"fmt"
	"log"
	"strings"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Line renders one log line. Odd trailing keys are dropped.
func Line(level Level, msg string, kv ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "level=%s msg=%q", level, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		if s, ok := v.(string); ok && strings.ContainsAny(s, " \"=") {
			fmt.Fprintf(&b, " %v=%q", kv[i], s)
			continue
		}
		fmt.Fprintf(&b, " %v=%v", kv[i], v)
	}
	return b.String()
}

func Log(l *log.Logger, level Level, msg string, kv ...any) {
	if l == nil {
		l = log.Default()
	}
	l.Print(Line(level, msg, kv...))
}

func Debug(l *log.Logger, msg string, kv ...any) { Log(l, LevelDebug, msg, kv...) }
func Info(l *log.Logger, msg string, kv ...any)  { Log(l, LevelInfo, msg, kv...) }
func Warn(l *log.Logger, msg string, kv ...any)  { Log(l, LevelWarn, msg, kv...) }
func Error(l *log.Logger, msg string, kv ...any) { Log(l, LevelError, msg, kv...) }
