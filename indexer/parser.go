package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/yoanbernabeu/codeindex/config"
)

// BlockTypeFallback marks blocks produced by line windows instead of the syntax tree.
const BlockTypeFallback = "fallback_chunk"

// CodeBlock is one embeddable region of a source file. Lines are 1-based and inclusive.
type CodeBlock struct {
	FilePath    string
	Identifier  string
	BlockType   string
	StartLine   int
	EndLine     int
	Content     string
	FileHash    string
	SegmentHash string
}

// Lines returns the number of lines the block spans.
func (b CodeBlock) Lines() int {
	return b.EndLine - b.StartLine + 1
}

// Parser splits files into CodeBlocks whose line counts stay within [minLines, maxLines].
type Parser struct {
	minLines int
	maxLines int

	mu      sync.Mutex
	parsers map[string]*sitter.Parser // grammar name -> parser
}

type ParserOption func(*Parser)

func WithBlockLines(minLines, maxLines int) ParserOption {
	return func(p *Parser) {
		if minLines > 0 {
			p.minLines = minLines
		}
		if maxLines >= p.minLines {
			p.maxLines = maxLines
		}
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		minLines: config.DefaultMinBlockLines,
		maxLines: config.DefaultMaxBlockLines,
		parsers:  make(map[string]*sitter.Parser),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse returns the blocks of a file. Files with a grammar but no definition
// nodes, and files without a grammar, are split into balanced line windows.
func (p *Parser) Parse(ctx context.Context, filePath string, content []byte, fileHash string) ([]CodeBlock, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, nil
	}

	g, ok := grammars[strings.ToLower(filepath.Ext(filePath))]
	if !ok {
		return p.lineWindows(filePath, content, fileHash, 1, countLines(content)), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	parser, ok := p.parsers[g.name]
	if !ok {
		parser = sitter.NewParser()
		parser.SetLanguage(g.language())
		p.parsers[g.name] = parser
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	defer tree.Close()

	var captures []*sitter.Node
	collectDefinitions(tree.RootNode(), g.definitions, &captures)
	if len(captures) == 0 {
		return p.lineWindows(filePath, content, fileHash, 1, countLines(content)), nil
	}

	var blocks []CodeBlock
	seen := make(map[string]bool)
	emit := func(b CodeBlock) {
		if seen[b.SegmentHash] {
			return
		}
		seen[b.SegmentHash] = true
		blocks = append(blocks, b)
	}

	queue := captures
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		start, end := nodeLines(node)
		lines := end - start + 1

		switch {
		case lines > p.maxLines && node.ChildCount() > 0:
			for i := 0; i < int(node.ChildCount()); i++ {
				queue = append(queue, node.Child(i))
			}
		case lines > p.maxLines:
			// Oversized leaf, such as a long string or comment.
			for _, b := range p.lineWindows(filePath, content, fileHash, start, end) {
				emit(b)
			}
		case lines >= p.minLines:
			emit(newBlock(filePath, identifierOf(node, content), node.Type(), start, end,
				nodeText(node, content, start, end), fileHash))
		}
	}

	return blocks, nil
}

// collectDefinitions records the outermost nodes whose type is a definition.
func collectDefinitions(node *sitter.Node, definitions map[string]bool, out *[]*sitter.Node) {
	if definitions[node.Type()] {
		*out = append(*out, node)
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectDefinitions(node.Child(i), definitions, out)
	}
}

// nodeLines returns 1-based inclusive lines. A node ending at column 0 does not
// own the line it ends on.
func nodeLines(node *sitter.Node) (int, int) {
	start := int(node.StartPoint().Row) + 1
	end := int(node.EndPoint().Row) + 1
	if node.EndPoint().Column == 0 && end > start {
		end--
	}
	return start, end
}

// nodeText is the node's source widened to whole lines, so blocks read like the file.
func nodeText(node *sitter.Node, content []byte, start, end int) string {
	text := node.Content(content)
	if start == end {
		return text
	}
	return strings.Join(sliceLines(content, start, end), "\n")
}

var identifierTypes = map[string]bool{
	"identifier":          true,
	"type_identifier":     true,
	"property_identifier": true,
	"field_identifier":    true,
	"constant":            true,
}

// identifierOf looks at the node and, for wrappers such as Go type declarations
// or export statements, one level into its named children.
func identifierOf(node *sitter.Node, content []byte) string {
	if name := directIdentifier(node, content); name != "" {
		return name
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if name := directIdentifier(node.NamedChild(i), content); name != "" {
			return name
		}
	}
	return ""
}

func directIdentifier(node *sitter.Node, content []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(content)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if identifierTypes[child.Type()] {
			return child.Content(content)
		}
	}
	return ""
}

// lineWindows splits lines [from, to] into near-equal windows that each respect
// the block bounds. Ranges shorter than the minimum yield nothing.
func (p *Parser) lineWindows(filePath string, content []byte, fileHash string, from, to int) []CodeBlock {
	if n := countLines(content); to > n {
		to = n
	}
	total := to - from + 1
	if total < p.minLines {
		return nil
	}

	count := (total + p.maxLines - 1) / p.maxLines
	base := total / count
	extra := total % count

	lines := sliceLines(content, from, to)
	blocks := make([]CodeBlock, 0, count)
	offset := 0
	for i := 0; i < count; i++ {
		size := base
		if i < extra {
			size++
		}
		if size >= p.minLines {
			start := from + offset
			blocks = append(blocks, newBlock(filePath, "", BlockTypeFallback, start, start+size-1,
				strings.Join(lines[offset:offset+size], "\n"), fileHash))
		}
		offset += size
	}
	return blocks
}

func newBlock(filePath, identifier, blockType string, start, end int, content, fileHash string) CodeBlock {
	return CodeBlock{
		FilePath:    filePath,
		Identifier:  identifier,
		BlockType:   blockType,
		StartLine:   start,
		EndLine:     end,
		Content:     content,
		FileHash:    fileHash,
		SegmentHash: segmentHash(filePath, start, end, content),
	}
}

func segmentHash(filePath string, start, end int, content string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%d-%s", filePath, start, end, content)))
	return hex.EncodeToString(sum[:])
}

// countLines ignores the empty remainder after a trailing newline.
func countLines(content []byte) int {
	s := strings.TrimSuffix(string(content), "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// sliceLines returns lines [from, to], 1-based inclusive, clamped to the file.
func sliceLines(content []byte, from, to int) []string {
	all := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	if from < 1 {
		from = 1
	}
	if to > len(all) {
		to = len(all)
	}
	if from > to {
		return nil
	}
	return all[from-1 : to]
}
