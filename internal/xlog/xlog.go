// Package xlog provides simple level-gated logging with swappable
// writers. Timestamps are left to the caller's process supervisor
// rather than stamped here.
package xlog

import (
	"fmt"
	"io"
	"os"
)

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrorWriter io.Writer = os.Stderr
)

var (
	DebugPrefix string = "[DEBUG]"
	InfoPrefix  string = "[INFO]"
	WarnPrefix  string = "[WARN]"
	ErrPrefix   string = "[ERROR]"
	FatalPrefix string = "[FATAL]"
)

func init() {
	if lvl, ok := os.LookupEnv("FQP_LOGLEVEL"); ok {
		switch lvl {
		case "err", "fatal":
			WarnWriter = io.Discard
			fallthrough
		case "warn":
			InfoWriter = io.Discard
			fallthrough
		case "info":
			DebugWriter = io.Discard
		case "debug":
		default:
			Warnf("FQP_LOGLEVEL has unrecognized value %q", lvl)
		}
	}
}

func Debug(v ...interface{}) {
	if DebugWriter != io.Discard {
		fmt.Fprintln(DebugWriter, append([]interface{}{DebugPrefix}, v...)...)
	}
}

func Info(v ...interface{}) {
	if InfoWriter != io.Discard {
		fmt.Fprintln(InfoWriter, append([]interface{}{InfoPrefix}, v...)...)
	}
}

func Warn(v ...interface{}) {
	if WarnWriter != io.Discard {
		fmt.Fprintln(WarnWriter, append([]interface{}{WarnPrefix}, v...)...)
	}
}

func Error(v ...interface{}) {
	if ErrorWriter != io.Discard {
		fmt.Fprintln(ErrorWriter, append([]interface{}{ErrPrefix}, v...)...)
	}
}

func Fatal(v ...interface{}) {
	fmt.Fprintln(ErrorWriter, append([]interface{}{FatalPrefix}, v...)...)
	os.Exit(1)
}

func Debugf(format string, v ...interface{}) {
	if DebugWriter != io.Discard {
		fmt.Fprintf(DebugWriter, DebugPrefix+" "+format+"\n", v...)
	}
}

func Infof(format string, v ...interface{}) {
	if InfoWriter != io.Discard {
		fmt.Fprintf(InfoWriter, InfoPrefix+" "+format+"\n", v...)
	}
}

func Warnf(format string, v ...interface{}) {
	if WarnWriter != io.Discard {
		fmt.Fprintf(WarnWriter, WarnPrefix+" "+format+"\n", v...)
	}
}

func Errorf(format string, v ...interface{}) {
	if ErrorWriter != io.Discard {
		fmt.Fprintf(ErrorWriter, ErrPrefix+" "+format+"\n", v...)
	}
}

func Fatalf(format string, v ...interface{}) {
	fmt.Fprintf(ErrorWriter, FatalPrefix+" "+format+"\n", v...)
	os.Exit(1)
}
