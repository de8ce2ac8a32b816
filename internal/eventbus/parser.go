package eventbus

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"
)

// errMalformedBlock marks a block whose data lines are not one JSON document.
var errMalformedBlock = errors.New("malformed event block")

// blockParser accumulates stream lines into blank-line delimited blocks.
type blockParser struct {
	data    []string
	pending bool
}

// ReadBlock reads lines until a blank line completes a non-empty block and
// returns the block's data lines. Blocks without data lines are skipped.
func (p *blockParser) ReadBlock(reader *bufio.Reader) ([]string, error) {
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if data, complete := p.feed(line); complete {
				return data, nil
			}
		}

		if err != nil {
			return nil, err
		}
	}
}

// feed consumes one line and reports a completed block's data lines.
func (p *blockParser) feed(line string) ([]string, bool) {
	line = strings.TrimRight(line, "\r\n")

	if strings.TrimSpace(line) == "" {
		if !p.pending {
			return nil, false
		}

		data := p.data
		p.data, p.pending = nil, false

		if len(data) == 0 {
			return nil, false
		}

		return data, true
	}

	p.pending = true

	if strings.HasPrefix(line, "data:") {
		p.data = append(p.data, strings.TrimSpace(line[len("data:"):]))
	}

	// event:, id:, retry: and ":" comment lines carry nothing the client uses.
	return nil, false
}

// decodeBlock joins data lines with newlines and parses them as one JSON document.
func decodeBlock(data []string) (interface{}, error) {
	var payload interface{}
	if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &payload); err != nil {
		return nil, errors.Join(errMalformedBlock, err)
	}

	return payload, nil
}
