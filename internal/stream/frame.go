package stream

import (
	"bufio"
	"io"
	"strings"
)

// maxFrameBytes bounds a single SSE line.
const maxFrameBytes = 1 << 20

// frameReader splits an SSE body into dispatched data payloads.
// Only the data field is used; event, id, retry and comment lines are skipped.
type frameReader struct {
	sc   *bufio.Scanner
	data []string
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	return &frameReader{sc: sc}
}

// Next blocks until a complete frame has been read. It returns io.EOF when the
// body ends; a partially accumulated frame at EOF is discarded.
func (fr *frameReader) Next() ([]byte, error) {
	for fr.sc.Scan() {
		line := fr.sc.Text()

		if line == "" {
			if len(fr.data) == 0 {
				continue
			}
			payload := strings.Join(fr.data, "\n")
			fr.data = fr.data[:0]
			return []byte(payload), nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		fr.data = append(fr.data, strings.TrimPrefix(value, " "))
	}

	if err := fr.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
