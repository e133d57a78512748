package media

import (
	"bytes"
	"testing"
)

func TestChunkPartRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 42000) // 3 chunks at size 17500, last partial
	numbers, pieces := chunkPart(5, data, DefaultChunkSize)

	if len(numbers) != 3 || len(pieces) != 3 {
		t.Fatalf("expected 3 chunks, got %d numbers / %d pieces", len(numbers), len(pieces))
	}

	p := &Part{Number: 5, Status: PartPending}
	var assembled []byte
	for i, number := range numbers {
		part, chunk, count, err := parseChunkNumber(number)
		if err != nil {
			t.Fatalf("parseChunkNumber(%q): %v", number, err)
		}
		if part != 5 {
			t.Fatalf("expected part 5, got %d", part)
		}
		if chunk != i {
			t.Fatalf("expected chunk index %d, got %d", i, chunk)
		}
		if count != 3 {
			t.Fatalf("expected count 3, got %d", count)
		}
		out, done := assembleChunk(p, chunk, count, pieces[i])
		if i < len(numbers)-1 {
			if done {
				t.Fatal("assembleChunk reported done before all chunks arrived")
			}
			continue
		}
		if !done {
			t.Fatal("expected assembleChunk to report done on final chunk")
		}
		assembled = out
	}

	if !bytes.Equal(assembled, data) {
		t.Fatalf("reassembled data does not match original (len %d vs %d)", len(assembled), len(data))
	}
}

func TestChunkPartSmallDataProducesOneChunk(t *testing.T) {
	numbers, pieces := chunkPart(1, []byte("hello"), DefaultChunkSize)
	if len(numbers) != 1 || len(pieces) != 1 {
		t.Fatalf("expected 1 chunk for small data, got %d", len(numbers))
	}
	if numbers[0] != "1:0:1" {
		t.Fatalf("expected number '1:0:1', got %q", numbers[0])
	}
}

func TestChunkPartEmptyDataStillProducesOneChunk(t *testing.T) {
	numbers, pieces := chunkPart(1, nil, DefaultChunkSize)
	if len(numbers) != 1 || len(pieces) != 1 {
		t.Fatalf("expected 1 empty chunk, got %d", len(numbers))
	}
}

func TestParseChunkNumberRejectsMalformed(t *testing.T) {
	cases := []string{"", "1:2", "a:b:c", "1:2:3:4"}
	for _, c := range cases {
		if _, _, _, err := parseChunkNumber(c); err == nil {
			t.Fatalf("expected parseChunkNumber(%q) to fail", c)
		}
	}
}

func TestAssembleChunkOutOfOrder(t *testing.T) {
	p := &Part{Number: 1}
	piece0 := []byte("AAAA")
	piece1 := []byte("BBBB")

	if _, done := assembleChunk(p, 1, 2, piece1); done {
		t.Fatal("should not be done after only the second chunk arrives")
	}
	out, done := assembleChunk(p, 0, 2, piece0)
	if !done {
		t.Fatal("expected done after both chunks arrived")
	}
	if string(out) != "AAAABBBB" {
		t.Fatalf("expected chunks reassembled in index order, got %q", out)
	}
}
