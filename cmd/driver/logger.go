package main

import (
	"fmt"
	"log"
)

// appLogger adapts the INFO/ERROR stdlib loggers to the Infof/Errorf surface
// the internal packages expect.
type appLogger struct {
	infoLog  *log.Logger
	errorLog *log.Logger
}

func (l appLogger) Infof(format string, args ...interface{}) {
	l.infoLog.Printf(format, args...)
}

func (l appLogger) Errorf(format string, args ...interface{}) {
	_ = l.errorLog.Output(2, fmt.Sprintf(format, args...))
}
