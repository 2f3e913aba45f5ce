// Package rlog wraps logrus the way routedns's logger.go did, generalized
// from a package-global Logger interface to an injectable *logrus.Entry so
// a component (resolve.Engine) takes a logger rather than reaching for a
// global. The transport and dnssec packages do no logging of their own.
package rlog

import (
	"fmt"
	"io"

	srslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// Logger is the interface every resolver/transport/validator component
// consumes. *logrus.Entry satisfies it.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// New returns a root logger writing to w at the given -d level (0-99).
// Levels above 6 behave as Trace, matching how routedns's CLI clamped
// --log-level into logrus.Level.
func New(w io.Writer, level int) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(levelFromDebugFlag(level))
	return l
}

// levelFromDebugFlag maps delv's "-d 0..99" debug level onto logrus levels.
// 0 is quiet (errors only); increasing values unlock info, debug, then
// trace, topping out at 6+ the way routedns's --log-level flag did.
func levelFromDebugFlag(d int) logrus.Level {
	switch {
	case d <= 0:
		return logrus.ErrorLevel
	case d == 1:
		return logrus.WarnLevel
	case d == 2:
		return logrus.InfoLevel
	case d <= 5:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// AddSyslogHook forwards all entries to a syslog daemon in addition to the
// base logger's writer, for "+log=syslog". Generalizes routedns's syslog.go
// listener-side syslog writer into a logrus hook.
func AddSyslogHook(l *logrus.Logger, network, raddr string, tag string) error {
	w, err := srslog.Dial(network, raddr, srslog.LOG_NOTICE|srslog.LOG_DAEMON, tag)
	if err != nil {
		return fmt.Errorf("connecting to syslog: %w", err)
	}
	hook, err := lsyslog.NewSyslogHook(network, raddr, 0, tag)
	if err != nil {
		w.Close()
		return err
	}
	l.AddHook(hook)
	return nil
}

// Silent returns a logger that discards everything, used as the default
// when the driver hasn't been asked for any diagnostics.
func Silent() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.ErrorLevel)
	return l
}
