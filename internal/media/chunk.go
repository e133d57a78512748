package media

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultChunkSize is the byte size a part is split into before it crosses
// a data channel, the teacher's MTU-friendly framing size adapted from
// rendezvous/relay.go's bounded-frame copying.
const DefaultChunkSize = 17500

// chunkPart splits data into chunkSize-sized pieces and returns the
// "P:C:N" number strings (part:chunk-index:chunk-count) alongside each
// piece, the wire format spec §4.5 specifies for a chunked part transfer.
func chunkPart(partNumber int, data []byte, chunkSize int) ([]string, [][]byte) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := (len(data) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	numbers := make([]string, 0, total)
	pieces := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		numbers = append(numbers, fmt.Sprintf("%d:%d:%d", partNumber, i, total))
		pieces = append(pieces, data[start:end])
	}
	return numbers, pieces
}

// parseChunkNumber decodes "P:C:N" into its three integers.
func parseChunkNumber(number string) (part, chunk, count int, err error) {
	fields := strings.Split(number, ":")
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("media: malformed part number %q", number)
	}
	part, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("media: malformed part number %q: %w", number, err)
	}
	chunk, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("media: malformed chunk index %q: %w", number, err)
	}
	count, err = strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("media: malformed chunk count %q: %w", number, err)
	}
	return part, chunk, count, nil
}

// assembleChunk records one arriving chunk on its Part and reports the
// reassembled bytes once every chunk for that part has arrived.
func assembleChunk(p *Part, chunkIdx, count int, data []byte) ([]byte, bool) {
	if p.chunks == nil {
		p.chunks = make(map[int][]byte, count)
		p.wantCount = count
	}
	p.chunks[chunkIdx] = data
	if len(p.chunks) < p.wantCount {
		return nil, false
	}
	total := 0
	for i := 0; i < p.wantCount; i++ {
		total += len(p.chunks[i])
	}
	out := make([]byte, 0, total)
	for i := 0; i < p.wantCount; i++ {
		out = append(out, p.chunks[i]...)
	}
	p.chunks = nil
	return out, true
}
