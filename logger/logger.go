package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type LoggerOpts struct {
	LogInitiatedHandshakes bool
	LogAcceptedHandshakes  bool
}

var opts LoggerOpts

func SetupLoggerOpts(level string, initiated, accepted bool) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse level: %w", err)
	}

	logrus.SetLevel(l)

	opts = LoggerOpts{
		LogInitiatedHandshakes: initiated,
		LogAcceptedHandshakes:  accepted,
	}

	return nil
}

func LogInitiatedHandshake(format string, args ...any) {
	if !opts.LogInitiatedHandshakes {
		return
	}

	logrus.Debugf(format, args...)
}

func LogAcceptedHandshake(format string, args ...any) {
	if !opts.LogAcceptedHandshakes {
		return
	}

	logrus.Debugf(format, args...)
}
