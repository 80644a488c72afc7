package tunnel

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const redacted = "****"

// logSink serializes writes to a build log shared by the launcher and both
// stream watchers, and masks secrets in every line.
type logSink struct {
	mu     sync.Mutex
	w      io.Writer
	redact *strings.Replacer
}

func newLogSink(w io.Writer, secrets ...string) *logSink {
	if w == nil {
		w = io.Discard
	}
	var pairs []string
	for _, s := range secrets {
		if s != "" {
			pairs = append(pairs, s, redacted)
		}
	}
	s := &logSink{w: w}
	if len(pairs) > 0 {
		s.redact = strings.NewReplacer(pairs...)
	}
	return s
}

// Println writes line followed by a newline. Write errors are dropped: the
// build log is best effort.
func (s *logSink) Println(line string) {
	if s.redact != nil {
		line = s.redact.Replace(line)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *logSink) Printf(format string, args ...interface{}) {
	s.Println(fmt.Sprintf(format, args...))
}
