package streamhttp

import (
	"bufio"
	"bytes"
	"io"
)

// readEvents parses a server-sent-event stream, invoking emit with the
// accumulated data payload of each event. Event names and ids are not
// significant to this protocol; comments and unknown fields are skipped
// per the SSE wire format. Returns nil on clean EOF.
func readEvents(r io.Reader, emit func(data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data [][]byte
	flush := func() {
		if len(data) == 0 {
			return
		}
		emit(bytes.Join(data, []byte("\n")))
		data = nil
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			flush()
			continue
		}
		if line[0] == ':' {
			// Comment / keep-alive.
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		if string(field) == "data" {
			buf := make([]byte, len(value))
			copy(buf, value)
			data = append(data, buf)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

const maxEventSize = 4 << 20
