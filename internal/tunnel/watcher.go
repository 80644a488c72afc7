package tunnel

import (
	"bufio"
	"io"
	"strings"

	"tunnelctl/pkg/logging"
)

const maxLineSize = 1024 * 1024

// watchStream copies r to sink line by line and calls onToken for every line
// containing token. It returns when r reaches EOF or fails; read errors, such
// as the stream being closed during teardown, end the watch like an EOF.
func watchStream(name string, r io.Reader, sink *logSink, token string, onToken func()) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		sink.Println(line)
		if token != "" && strings.Contains(line, token) {
			onToken()
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Debug("Watcher", "%s watcher stopped: %v", name, err)
		// keep the pipe drained so the child never blocks writing to it
		_, _ = io.Copy(io.Discard, r)
	}
}
