package llm

import (
	"bufio"
	"io"
	"strings"
)

// ServerEvent is one parsed block of a server-sent event stream.
type ServerEvent struct {
	Name string
	Data string
}

// ScanServerEvents reads an SSE body and invokes fn for each event block.
// Blocks are separated by blank lines; "data:" lines spanning one block are
// rejoined with newlines, "event:" names the block, comment lines (":") are
// skipped. Scanning stops at EOF or on the first fn error.
func ScanServerEvents(body io.Reader, fn func(ServerEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event ServerEvent
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 && event.Name == "" {
			return nil
		}
		event.Data = strings.Join(dataLines, "\n")
		err := fn(event)
		event = ServerEvent{}
		dataLines = nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			event.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
