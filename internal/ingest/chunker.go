// Package ingest converts heterogeneous inputs into chunked, embedded
// documents with duplicate detection.
package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/oap-labs/oapd/internal/apperr"
)

// Strategy selects how content is split into chunks.
type Strategy string

const (
	StrategyMarkdownAware Strategy = "markdown_aware"
	StrategySemantic      Strategy = "semantic"
	StrategyRecursive     Strategy = "recursive"
)

// SizeClass scales chunk sizes.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
)

// sizeTargets maps a size class to target and minimum chunk characters.
// Chunks below min are merge candidates in the optimize pass.
var sizeTargets = map[SizeClass]struct{ target, min int }{
	SizeSmall:  {500, 120},
	SizeMedium: {1000, 250},
	SizeLarge:  {2000, 500},
}

// Chunker splits text into chunks per strategy and size class.
type Chunker struct {
	Strategy Strategy
	Size     SizeClass
}

// NewChunker validates the strategy and size class.
func NewChunker(strategy Strategy, size SizeClass) (*Chunker, error) {
	switch strategy {
	case StrategyMarkdownAware, StrategySemantic, StrategyRecursive:
	default:
		return nil, apperr.New(apperr.InvalidInput, "unknown chunking strategy %q", strategy)
	}
	if _, ok := sizeTargets[size]; !ok {
		return nil, apperr.New(apperr.InvalidInput, "unknown size class %q", size)
	}
	return &Chunker{Strategy: strategy, Size: size}, nil
}

// Chunk splits content, then runs the optimize pass. Empty content
// yields no chunks.
func (c *Chunker) Chunk(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	sizes := sizeTargets[c.Size]

	var raw []string
	switch c.Strategy {
	case StrategyMarkdownAware:
		raw = chunkMarkdown(content, sizes.target)
	case StrategySemantic:
		raw = chunkSemantic(content, sizes.target)
	default:
		raw = chunkRecursive(content, sizes.target)
	}
	return optimizeChunks(raw, sizes.min)
}

var markdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s`)

// chunkMarkdown splits on headers first, then re-splits blocks that
// still exceed the target.
func chunkMarkdown(content string, target int) []string {
	idxs := markdownHeader.FindAllStringIndex(content, -1)
	var blocks []string
	prev := 0
	for _, loc := range idxs {
		if loc[0] > prev {
			blocks = append(blocks, content[prev:loc[0]])
		}
		prev = loc[0]
	}
	blocks = append(blocks, content[prev:])

	var out []string
	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if len(b) <= target {
			out = append(out, b)
			continue
		}
		out = append(out, chunkRecursive(b, target)...)
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// chunkSemantic groups sentences into chunks near the target size,
// breaking at sentence boundaries so no thought is split mid-stream.
func chunkSemantic(content string, target int) []string {
	marked := sentenceEnd.ReplaceAllString(content, "$1\x00")
	sentences := strings.Split(marked, "\x00")

	var out []string
	var cur strings.Builder
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(s)+1 > target {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// recursiveSeparators are tried in order; the last resort is a hard cut.
var recursiveSeparators = []string{"\n\n", "\n", ". ", " "}

// chunkRecursive splits on the coarsest separator that yields pieces
// within the target, packing adjacent pieces back together greedily.
func chunkRecursive(content string, target int) []string {
	if len(content) <= target {
		return []string{content}
	}
	for _, sep := range recursiveSeparators {
		parts := strings.Split(content, sep)
		if len(parts) < 2 {
			continue
		}
		var pieces []string
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if len(p) > target {
				pieces = append(pieces, chunkRecursive(p, target)...)
			} else {
				pieces = append(pieces, p)
			}
		}
		return packPieces(pieces, sep, target)
	}
	// No separator worked: hard cut on a rune boundary.
	var out []string
	for len(content) > target {
		cut := target
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		if cut == 0 {
			cut = target
		}
		out = append(out, content[:cut])
		content = content[cut:]
	}
	if content != "" {
		out = append(out, content)
	}
	return out
}

// packPieces greedily joins consecutive pieces while staying under
// target.
func packPieces(pieces []string, sep string, target int) []string {
	joiner := sep
	var out []string
	var cur strings.Builder
	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+len(joiner)+len(p) > target {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(joiner)
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// optimizeChunks merges trailing chunks smaller than min into their
// predecessor. At least one chunk always survives.
func optimizeChunks(chunks []string, min int) []string {
	if len(chunks) <= 1 {
		return chunks
	}
	out := []string{chunks[0]}
	for _, c := range chunks[1:] {
		if len(c) < min {
			out[len(out)-1] = out[len(out)-1] + "\n\n" + c
			continue
		}
		out = append(out, c)
	}
	return out
}
