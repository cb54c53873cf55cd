package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Tagged prefixes every line with a fixed tag, e.g. "[ab12cd34]".
// Listener goroutines use it so lines from different channels can be told apart.
type Tagged string

// Tag shortens id to 8 characters and wraps it in brackets.
func Tag(id string) Tagged {
	if len(id) > 8 {
		id = id[:8]
	}
	return Tagged("[" + id + "] ")
}

func (t Tagged) Debug(format string, args ...interface{}) { LogDebug(string(t)+format, args...) }
func (t Tagged) Info(format string, args ...interface{})  { LogInfo(string(t)+format, args...) }
func (t Tagged) Warn(format string, args ...interface{})  { LogWarning(string(t)+format, args...) }
func (t Tagged) Error(format string, args ...interface{}) { LogError(string(t)+format, args...) }
