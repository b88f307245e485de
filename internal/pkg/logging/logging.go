package logging

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"

	stdlog "log"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

/*
 *  Provides diagnostics and audit logging facilities.  Diagnostics go to
 *  stderr or a file, never stdout, which carries only the JSON result.
 */

type ctxID int

const (
	txnIDKey ctxID = iota
)

// WithTxnID returns a context which knows its transaction ID
func WithTxnID(ctx context.Context, txnID string) context.Context {
	return context.WithValue(ctx, txnIDKey, txnID)
}

// TxnID returns the transaction ID stored in ctx, if any
func TxnID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(txnIDKey).(string)
	return id
}

type logger struct {
	logger  *logrus.Entry
	logFile *os.File
	audit   *logrus.Logger
}

// The one singleton logger
var gLogger logger
var gInstanceID string

// Logger returns the global logger
func Logger(ctx context.Context) *logrus.Entry {
	if txnID := TxnID(ctx); txnID != "" {
		return gLogger.logger.WithFields(
			logrus.Fields{
				"txnid": txnID,
			},
		)
	}

	return gLogger.logger
}

// Audit returns an entry on the structured audit logger
func Audit(ctx context.Context) *logrus.Entry {
	e := gLogger.audit.WithField("entrytype", "audit")
	if txnID := TxnID(ctx); txnID != "" {
		e = e.WithField("txnid", txnID)
	}
	return e
}

// SetAuditOutput redirects the audit log, nil discarding it
func SetAuditOutput(w io.Writer) {
	if w == nil {
		w = ioutil.Discard
	}
	gLogger.audit.SetOutput(w)
}

func init() {
	// Viper defaults
	viper.SetDefault("logging.location", "stderr")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.level", "info")

	// The app instantiation ID
	gInstanceID = uuid.New().String()

	logrus.SetOutput(os.Stderr)
	gLogger.logger = logrus.WithFields(logrus.Fields{
		"pid":      os.Getpid(),
		"exe":      path.Base(os.Args[0]),
		"instance": gInstanceID,
	})

	gLogger.audit = logrus.New()
	gLogger.audit.SetOutput(os.Stderr)
	gLogger.audit.SetFormatter(&logrus.JSONFormatter{})
	gLogger.audit.SetLevel(logrus.InfoLevel)
}

// Configure sets the log level and output location/format
func Configure(cfg *viper.Viper) error {
	// Configure system log location
	switch loc := cfg.GetString("logging.location"); loc {
	case "stderr", "":
		logrus.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(loc, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}

		gLogger.logger.Debugf("Switching system log to %s", loc)
		logrus.SetOutput(file)

		if gLogger.logFile != nil {
			gLogger.logFile.Close()
		}
		gLogger.logFile = file
	}

	// Obey the level setting in the config if not already in debug mode
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		level := cfg.GetString("logging.level")
		val, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("bad log level: [%s]", level)
		}
		logrus.SetLevel(val)
	}

	format := cfg.GetString("logging.format")
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	// Override the standard system logger
	stdlog.SetOutput(Logger(nil).WriterLevel(logrus.DebugLevel))

	return nil
}

// SetQuiet raises the diagnostic level to errors only, unless debugging
func SetQuiet(quiet bool) {
	if quiet && !logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.SetLevel(logrus.ErrorLevel)
	}
}

// EnableAudit switches the audit line on (to stderr) or off
func EnableAudit(enabled bool) {
	if enabled {
		SetAuditOutput(os.Stderr)
	} else {
		SetAuditOutput(nil)
	}
}
