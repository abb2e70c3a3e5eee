package util

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is shared by every package. Deployment logs carry structured
// fields (deployment, device, phase, job) so one device's transaction can
// be followed through interleaved concurrent output.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
}

// SetLogLevel sets the logging level
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetLogOutput sets the log output destination
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSONFormat switches to one JSON object per line, for log shippers.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
}

// WithFields returns a logger with multiple fields
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithDeployment scopes a logger to one multi-device deployment.
func WithDeployment(id string) *logrus.Entry {
	return Logger.WithField("deployment", id)
}

// WithJob scopes a logger to one background job.
func WithJob(id string) *logrus.Entry {
	return Logger.WithField("job", id)
}

// WithDevice returns a logger with device context
func WithDevice(device string) *logrus.Entry {
	return Logger.WithField("device", device)
}

// WithPhase returns a logger scoped to one device and transaction phase.
func WithPhase(device, phase string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"device": device, "phase": phase})
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}
