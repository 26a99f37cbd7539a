package logger

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func Init(debug bool) {
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
}

func Debug(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

func Info(format string, v ...interface{}) {
	log.Infof(format, v...)
}

func Warn(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

func Error(format string, v ...interface{}) {
	log.Errorf(format, v...)
}
