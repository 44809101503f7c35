package logger

import (
	"fmt"
	"io"
	"log"
)

// osSink is the default LogSink, used whenever the driver isn't handed a
// custom one: every message goes to the given writer via the standard
// library logger.
type osSink struct {
	logger *log.Logger
}

func newOSSink(w io.Writer) *osSink {
	return &osSink{logger: log.New(w, "", log.LstdFlags)}
}

// Info implements LogSink.
func (s *osSink) Info(level int, msg string, keysAndValues ...interface{}) {
	s.logger.Print(formatLine(level, msg, keysAndValues))
}

func formatLine(level int, msg string, keysAndValues []interface{}) string {
	line := fmt.Sprintf("[level=%d] %s", level, msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return line
}
