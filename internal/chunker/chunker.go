// Package chunker splits extracted document text into overlapping,
// boundary-aware segments for independent embedding. Chunking is a pure
// function of the input text and options: same input, same chunks.
//
// Two modes exist. The default paragraph-preserving mode accumulates whole
// paragraphs up to the target size and seeds each new chunk with an overlap
// tail from the previous one. The raw sliding-window mode advances a fixed
// window and snaps chunk ends back to sentence boundaries when a good break
// point exists past the window midpoint. The boundary snapping is a
// heuristic — abbreviations containing ". " can shift a break — so callers
// should rely on the ordering and overlap invariants, not exact positions.
package chunker

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultChunkSize is the target chunk size in characters.
	DefaultChunkSize = 1000
	// DefaultOverlap is the number of characters shared between consecutive chunks.
	DefaultOverlap = 200
)

// paragraphSep matches blank-line paragraph boundaries (two or more newlines).
var paragraphSep = regexp.MustCompile(`\n{2,}`)

// TextChunk is one bounded segment of a larger text.
type TextChunk struct {
	// Content is the chunk text, trimmed of leading/trailing whitespace.
	Content string
	// Index is the zero-based position of this chunk in emission order.
	Index int
	// StartChar and EndChar are byte offsets into the working buffer the
	// chunk was cut from, before trimming.
	StartChar int
	EndChar   int
	// Metadata holds optional per-chunk annotations.
	Metadata map[string]any
}

// Options controls chunking behaviour. The zero value selects the defaults:
// 1000-character chunks, 200-character overlap, paragraph-preserving mode.
type Options struct {
	// ChunkSize is the target chunk size in characters (default 1000).
	ChunkSize int
	// Overlap is the best-effort overlap between consecutive chunks
	// (default 200). Sentence snapping may shrink the exact overlap.
	Overlap int
	// DisableParagraphs switches off paragraph-preserving mode and chunks
	// with the raw sliding window instead.
	DisableParagraphs bool
}

// DefaultOptions returns Options seeded from the CHUNK_SIZE and CHUNK_OVERLAP
// environment variables, falling back to the package defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize: envInt("CHUNK_SIZE", DefaultChunkSize),
		Overlap:   envInt("CHUNK_OVERLAP", DefaultOverlap),
	}
}

// Chunk splits text into an ordered sequence of TextChunks per opts.
// Empty or whitespace-only input yields nil; input no longer than the chunk
// size yields a single chunk spanning the whole (trimmed) input.
func Chunk(text string, opts Options) []TextChunk {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := opts.Overlap
	if overlap <= 0 {
		overlap = DefaultOverlap
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	if len(text) <= size {
		return []TextChunk{{
			Content:   strings.TrimSpace(text),
			Index:     0,
			StartChar: 0,
			EndChar:   len(text),
		}}
	}

	if !opts.DisableParagraphs {
		return chunkByParagraphs(text, size, overlap)
	}
	return slidingWindow(text, size, overlap)
}

// slidingWindow advances a window of size characters across text, snapping
// each chunk's end back to the last sentence terminator or newline when one
// occurs past the window midpoint. The cursor advances by (chunk length −
// overlap); when overlap is at least the chunk length the cursor is forced
// to the chunk's end so the loop always makes progress.
func slidingWindow(text string, size, overlap int) []TextChunk {
	var chunks []TextChunk
	cur := 0
	idx := 0

	for cur < len(text) {
		end := cur + size
		if end > len(text) {
			end = len(text)
		}
		window := text[cur:end]

		// Snap to a sentence boundary unless the window reaches the end.
		if end < len(text) {
			if best := lastBreakPoint(window); best > size/2 {
				window = text[cur : cur+best+2]
			}
		}

		chunks = append(chunks, TextChunk{
			Content:   strings.TrimSpace(window),
			Index:     idx,
			StartChar: cur,
			EndChar:   cur + len(window),
		})
		idx++

		cur += len(window) - overlap
		if last := chunks[len(chunks)-1]; cur <= last.StartChar {
			// Overlap swallowed the whole chunk; jump to its end.
			cur = last.EndChar
		}
	}

	return chunks
}

// lastBreakPoint returns the byte offset of the best break point in window:
// the rightmost sentence terminator (". ", "? ", "! ") or newline. Returns
// -1 when the window contains none.
func lastBreakPoint(window string) int {
	best := strings.LastIndex(window, ". ")
	for _, sep := range []string{"? ", "! ", "\n"} {
		if i := strings.LastIndex(window, sep); i > best {
			best = i
		}
	}
	return best
}

// chunkByParagraphs accumulates paragraphs into a buffer, flushing a chunk
// whenever the next paragraph would push the buffer past the target size.
// Each flushed chunk seeds the next buffer with an overlap tail. A buffer
// that grows past 1.5× the target size (a single oversized paragraph) is
// re-chunked with the sliding window and the sub-chunks spliced in.
func chunkByParagraphs(text string, size, overlap int) []TextChunk {
	paragraphs := paragraphSep.Split(text, -1)

	var chunks []TextChunk
	var buf string
	start := 0
	idx := 0

	for _, paragraph := range paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			continue
		}

		if len(buf)+len(trimmed) > size && len(buf) > 0 {
			chunks = append(chunks, TextChunk{
				Content:   strings.TrimSpace(buf),
				Index:     idx,
				StartChar: start,
				EndChar:   start + len(buf),
			})
			idx++

			tail := overlapTail(buf, overlap)
			start = start + len(buf) - len(tail)
			buf = tail + "\n\n" + trimmed
		} else if len(buf) > 0 {
			buf += "\n\n" + trimmed
		} else {
			buf = trimmed
		}

		if len(buf) > size*3/2 {
			sub := Chunk(buf, Options{ChunkSize: size, Overlap: overlap, DisableParagraphs: true})
			lastEnd := 0
			for _, sc := range sub {
				chunks = append(chunks, TextChunk{
					Content:   sc.Content,
					Index:     idx,
					StartChar: start + sc.StartChar,
					EndChar:   start + sc.EndChar,
				})
				lastEnd = sc.EndChar
				idx++
			}
			buf = ""
			start += lastEnd
		}
	}

	if strings.TrimSpace(buf) != "" {
		chunks = append(chunks, TextChunk{
			Content:   strings.TrimSpace(buf),
			Index:     idx,
			StartChar: start,
			EndChar:   start + len(buf),
		})
	}

	return chunks
}

// overlapTail returns the last overlap characters of text, advanced past the
// first sentence boundary when one occurs within the first half of the tail.
func overlapTail(text string, overlap int) string {
	if len(text) <= overlap {
		return text
	}
	tail := text[len(text)-overlap:]
	if i := strings.Index(tail, ". "); i != -1 && i < overlap/2 {
		return tail[i+2:]
	}
	return tail
}

// envInt reads an integer environment variable, falling back on absence or
// parse failure.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
