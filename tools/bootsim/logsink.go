package main

import (
	"bytes"
	"strings"

	"go.uber.org/zap"
)

// logSink turns the loader's line oriented output into structured log
// entries. A leading "[module]" tag becomes the module field.
type logSink struct {
	logger *zap.Logger
	buf    bytes.Buffer
}

func newLogSink(logger *zap.Logger) *logSink {
	return &logSink{logger: logger}
}

// Write implements io.Writer. Partial lines are kept until their newline
// arrives.
func (s *logSink) Write(p []byte) (int, error) {
	s.buf.Write(p)
	for {
		line, err := s.buf.ReadString('\n')
		if err != nil {
			// put the partial line back
			rest := []byte(line)
			s.buf.Reset()
			s.buf.Write(rest)
			return len(p), nil
		}
		s.emit(strings.TrimRight(line, "\n"))
	}
}

// Flush logs any pending partial line.
func (s *logSink) Flush() {
	if s.buf.Len() != 0 {
		s.emit(s.buf.String())
		s.buf.Reset()
	}
	_ = s.logger.Sync()
}

func (s *logSink) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.Trim(line, "-") == "" {
		return
	}

	if module, msg, ok := splitModule(line); ok {
		if strings.Contains(msg, "unrecoverable error") || strings.HasPrefix(msg, "warning:") {
			s.logger.Warn(msg, zap.String("module", module))
			return
		}
		s.logger.Info(msg, zap.String("module", module))
		return
	}

	s.logger.Info(line)
}

// splitModule splits "[module] message" lines. Module names never contain
// spaces, which tells them apart from bracketed address ranges.
func splitModule(line string) (string, string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", "", false
	}

	end := strings.IndexByte(line, ']')
	if end < 2 || strings.ContainsAny(line[1:end], " \t") {
		return "", "", false
	}
	return line[1:end], strings.TrimSpace(line[end+1:]), true
}
