package logger

import "go.uber.org/zap"

// NewTestLogger returns a Logger suitable for use in unit tests that don't
// have a *testing.T handy (table-driven helpers, package-level fixtures).
// It logs at debug level to stderr with no file output.
func NewTestLogger() *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return &Logger{Logger: zap.NewNop()}
	}
	return &Logger{Logger: l}
}
