package logger

import "fmt"

// Adapter can be used as an adapter for logging from other frameworks/libraries.
// It satisfies resty.Logger and the dd-trace logger interface.
type Adapter Logger

func (log *Adapter) Log(msg string) {
	if log == nil {
		return
	}
	Logger(*log).Info(msg)
}

func (log *Adapter) Errorf(format string, v ...interface{}) {
	if log == nil {
		return
	}
	Logger(*log).Error(fmt.Sprintf(format, v...))
}

func (log *Adapter) Warnf(format string, v ...interface{}) {
	if log == nil {
		return
	}
	Logger(*log).Warn(fmt.Sprintf(format, v...))
}

func (log *Adapter) Debugf(format string, v ...interface{}) {
	if log == nil {
		return
	}
	Logger(*log).Debug(fmt.Sprintf(format, v...))
}
