// Package logging provides the colorized, leveled console logger used
// across lockstepd. It keeps the verb-based surface the server was
// originally built with (Debug/Info/Warn/Error/Success/Fatal) but
// backs it with logrus so callers that need structured fields
// (room_id, addr, seq) can attach them instead of interpolating into
// the format string.
package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// ANSI color codes, matching the console palette the server has
// always used.
const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorWhite   = "\033[37m"
	colorCyan    = "\033[36m"
	colorGray    = "\033[90m"
	colorMagenta = "\033[35m"
)

var levelColor = map[logrus.Level]string{
	logrus.DebugLevel: colorGray,
	logrus.InfoLevel:  colorWhite,
	logrus.WarnLevel:  colorYellow,
	logrus.ErrorLevel: colorRed,
	logrus.FatalLevel: colorRed,
}

// consoleFormatter reproduces the "[HH:MM:SS] [LEVEL] message" line the
// server has always printed, including an optional "success" tag that
// logrus has no native level for.
type consoleFormatter struct {
	TimeFormat string
}

func (f *consoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	tag := e.Level.String()
	color := levelColor[e.Level]
	if v, ok := e.Data["tag"]; ok {
		tag = fmt.Sprintf("%v", v)
		color = colorGreen
	}
	ts := e.Time.Format(f.TimeFormat)

	line := fmt.Sprintf("%s[%s]%s %s[%s]%s %s", colorGray, ts, colorReset, color, tag, colorReset, e.Message)
	for k, v := range e.Data {
		if k == "tag" {
			continue
		}
		line += fmt.Sprintf(" %s%s=%v%s", colorMagenta, k, v, colorReset)
	}
	return []byte(line + "\n"), nil
}

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&consoleFormatter{TimeFormat: "15:04:05"})
	return l
}

// SetLevel sets the minimum log level by name ("debug", "info", "warn", "error").
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.SetLevel(lvl)
}

// Fields is re-exported so callers don't need to import logrus directly.
type Fields = logrus.Fields

// WithFields returns an entry carrying structured fields, for call
// sites that want to attach room_id/addr/seq instead of interpolating
// them into the message.
func WithFields(fields Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { std.Fatalf(format, args...) }

// Success logs at info level tagged "SUCCESS" so it renders in green,
// matching the distinction the console output has always made between
// routine info and a completed milestone (server bound, room created).
func Success(format string, args ...interface{}) {
	std.WithField("tag", "SUCCESS").Info(fmt.Sprintf(format, args...))
}

// Section prints a boxed section header directly to stdout, outside
// the leveled logger. This is console chrome, not a log record.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", colorCyan, border, colorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", colorCyan, colorReset, title, colorCyan, colorReset)
	fmt.Printf("%s╚%s╝%s\n\n", colorCyan, border, colorReset)
}

// Banner prints the startup banner, unchanged console chrome.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ██╗      ██████╗  ██████╗██╗  ██╗███████╗████████╗███████╗██████╗ ║
║   ██║     ██╔═══██╗██╔════╝██║ ██╔╝██╔════╝╚══██╔══╝██╔════╝██╔══██╗║
║   ██║     ██║   ██║██║     █████╔╝ ███████╗   ██║   █████╗  ██████╔╝║
║   ██║     ██║   ██║██║     ██╔═██╗ ╚════██║   ██║   ██╔══╝  ██╔═══╝ ║
║   ███████╗╚██████╔╝╚██████╗██║  ██╗███████║   ██║   ███████╗██║     ║
║   ╚══════╝ ╚═════╝  ╚═════╝╚═╝  ╚═╝╚══════╝   ╚═╝   ╚══════╝╚═╝     ║
║                                                           ║
║              %s%-37s%s║
║                    %sVersion %-7s%s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, colorCyan, title, colorReset, colorGreen, version, colorReset)
}
