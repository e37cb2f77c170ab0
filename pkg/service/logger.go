package service

// Logger defines the logging interface the engine services depend on.
// logrus.Logger satisfies it; tests plug in a no-op.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
