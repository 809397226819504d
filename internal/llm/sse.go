package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errStreamDone stops readSSE at a vendor's end-of-stream sentinel.
var errStreamDone = errors.New("stream done")

// readSSE parses a text/event-stream body and calls onEvent once per
// dispatched event. Multi-line data fields are joined with "\n". A non-nil
// error from onEvent stops reading and is returned.
func readSSE(r io.Reader, onEvent func(event, data string) error) error {
	br := bufio.NewReaderSize(r, 64<<10)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		if eof {
			return flush()
		}
	}
}
