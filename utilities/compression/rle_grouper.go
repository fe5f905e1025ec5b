package compression

import (
	"bufio"
	"errors"
	"io"
)

// ByteRun is a maximal sequence of one repeated byte value.
type ByteRun struct {
	Byte byte
	// RunLength counts every occurrence of Byte, so a lone byte has length 1.
	// Zero only appears in InvalidRLERun.
	RunLength int
}

// InvalidRLERun is returned by GetNextRun along with an error, including EOF.
var InvalidRLERun = ByteRun{}

// RunLengthGrouper splits a stream into runs of identical bytes.
type RunLengthGrouper struct {
	source *bufio.Reader
}

func NewRunLengthGrouper(rd io.Reader) RunLengthGrouper {
	return RunLengthGrouper{source: bufio.NewReader(rd)}
}

// GetNextRun consumes and returns the next run. At the end of the stream it
// returns InvalidRLERun and io.EOF.
func (g RunLengthGrouper) GetNextRun() (ByteRun, error) {
	value, err := g.source.ReadByte()
	if err != nil {
		return InvalidRLERun, err
	}

	run := ByteRun{Byte: value, RunLength: 1}
	for {
		next, err := g.source.ReadByte()
		if errors.Is(err, io.EOF) {
			return run, nil
		} else if err != nil {
			return InvalidRLERun, err
		}

		if next != value {
			g.source.UnreadByte()
			return run, nil
		}
		run.RunLength++
	}
}
