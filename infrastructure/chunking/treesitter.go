// Package chunking implements the two-tier chunking strategy: ChunkFile
// uses a tree-sitter grammar for the file's extension, extracting one
// chunk per top-level function/method/class/struct definition; files
// whose extension has no registered grammar go through the fixed-size
// chunker in chunks.go instead. A grammar-matched file that fails to
// parse or contains no definitions yields no chunks.
package chunking

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/rephole/rephole/domain/chunk"
)

// commentNodeTypes are the grammar node types treated as a leading
// comment/decorator a definition's context expansion absorbs.
var commentNodeTypes = map[string]struct{}{
	"comment":       {},
	"line_comment":  {},
	"block_comment": {},
	"decorator":     {},
}

// wrapperNodeTypes are parent node types whose span should be used
// instead of the matched definition's own span — tree-sitter-python
// nests a decorated function inside decorated_definition, for example,
// so the decorators live outside the function_definition node itself.
var wrapperNodeTypes = map[string]struct{}{
	"decorated_definition": {},
}

// grammar describes how one language's blocks are recognized and named.
type grammar struct {
	language   func() *sitter.Language
	blockTypes []string
	nameField  string
	nameFunc   func(node *sitter.Node, source []byte) string
}

// grammars maps file extensions to the languages this chunker can
// parse. Languages with no registered grammar here — Ruby, Bash, HTML,
// CSS, JSON, YAML — fall back to the fixed-size chunker; see DESIGN.md.
var grammars = map[string]grammar{
	".go": {
		language:   golang.GetLanguage,
		blockTypes: []string{"function_declaration", "method_declaration"},
		nameField:  "name",
	},
	".ts": {
		language:   typescript.GetLanguage,
		blockTypes: []string{"function_declaration", "method_definition", "class_declaration"},
		nameField:  "name",
	},
	".tsx": {
		language:   tsx.GetLanguage,
		blockTypes: []string{"function_declaration", "method_definition", "class_declaration"},
		nameField:  "name",
	},
	".js": {
		language:   javascript.GetLanguage,
		blockTypes: []string{"function_declaration", "method_definition", "class_declaration"},
		nameField:  "name",
	},
	".jsx": {
		language:   javascript.GetLanguage,
		blockTypes: []string{"function_declaration", "method_definition", "class_declaration"},
		nameField:  "name",
	},
	".py": {
		language:   python.GetLanguage,
		blockTypes: []string{"function_definition", "class_definition"},
		nameField:  "name",
	},
	".java": {
		language:   java.GetLanguage,
		blockTypes: []string{"method_declaration", "class_declaration", "interface_declaration"},
		nameField:  "name",
	},
	".c": {
		language:   c.GetLanguage,
		blockTypes: []string{"function_definition"},
		nameFunc:   declaratorIdentifierName,
	},
	".h": {
		language:   c.GetLanguage,
		blockTypes: []string{"function_definition"},
		nameFunc:   declaratorIdentifierName,
	},
	".cpp": {
		language:   cpp.GetLanguage,
		blockTypes: []string{"function_definition", "class_specifier", "struct_specifier"},
		nameFunc:   cppBlockName,
	},
	".cc": {
		language:   cpp.GetLanguage,
		blockTypes: []string{"function_definition", "class_specifier", "struct_specifier"},
		nameFunc:   cppBlockName,
	},
	".cxx": {
		language:   cpp.GetLanguage,
		blockTypes: []string{"function_definition", "class_specifier", "struct_specifier"},
		nameFunc:   cppBlockName,
	},
	".hpp": {
		language:   cpp.GetLanguage,
		blockTypes: []string{"function_definition", "class_specifier", "struct_specifier"},
		nameFunc:   cppBlockName,
	},
	".cs": {
		language:   csharp.GetLanguage,
		blockTypes: []string{"method_declaration", "class_declaration"},
		nameField:  "name",
	},
	".rs": {
		language:   rust.GetLanguage,
		blockTypes: []string{"function_item", "struct_item", "impl_item"},
		nameField:  "name",
	},
}

// SupportsGrammar reports whether ext has a registered tree-sitter
// grammar, for callers that want to log a fallback decision.
func SupportsGrammar(ext string) bool {
	_, ok := grammars[ext]
	return ok
}

// ChunkFile extracts chunks from source. path is used only to derive
// the extension and to build each chunk's canonical ID.
func ChunkFile(path string, source []byte) []chunk.Chunk {
	chunks := chunkFile(path, source)
	if dupes := chunk.DuplicateIDs(chunks); len(dupes) > 0 {
		slog.Warn("chunker emitted duplicate chunk ids", "path", path, "ids", dupes)
	}
	return chunks
}

func chunkFile(path string, source []byte) []chunk.Chunk {
	g, ok := grammars[filepath.Ext(path)]
	if !ok {
		// The fixed-size fallback is only for files no grammar covers. A
		// grammar-matched file that parses to zero definitions, or fails
		// to parse, yields no chunks at all — the worker still writes its
		// blob but emits no vectors.
		return fallbackChunks(path, source)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(g.language())
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil {
		slog.Warn("parse failed", "path", path, "error", err)
		return nil
	}
	defer tree.Close()

	nodes := collectByType(tree.RootNode(), g.blockTypes)
	if len(nodes) == 0 {
		return nil
	}

	lines := newLineIndex(source)
	chunks := make([]chunk.Chunk, 0, len(nodes))
	for _, node := range nodes {
		name := blockName(g, node, source)
		sp := expandSpan(node)

		startLine := lines.lineAt(sp.start)
		endLine := lines.lineAt(maxUint32(sp.end, sp.start+1) - 1)
		content := string(source[sp.start:sp.end])

		chunks = append(chunks, chunk.New(path, name, node.Type(), content, startLine, endLine))
	}
	return chunks
}

func fallbackChunks(path string, source []byte) []chunk.Chunk {
	text, err := NewTextChunks(string(source), DefaultChunkParams())
	if err != nil {
		return nil
	}

	// Files shorter than the splitter's minimum still get indexed as one
	// whole-file chunk.
	if len(text.All()) == 0 {
		if len(source) == 0 {
			return nil
		}
		lines := newLineIndex(source)
		endLine := lines.lineAt(uint32(len(source) - 1))
		return []chunk.Chunk{chunk.New(path, "segment_0", "text", string(source), 1, endLine)}
	}

	// Segment names carry the ordinal: fixed-size splitting can emit
	// several chunks starting on the same line (one long line split on
	// token boundaries), and the canonical ID would collide on start line
	// alone.
	out := make([]chunk.Chunk, 0, len(text.All()))
	for i, c := range text.All() {
		name := fmt.Sprintf("segment_%d", i)
		out = append(out, chunk.New(path, name, "text", c.Content(), c.StartLine(), c.EndLine()))
	}
	return out
}

// span is a merged byte range — used to extend a matched definition's
// own span backward over any absorbed comment/decorator siblings.
type span struct {
	start, end uint32
}

// expandSpan walks up through any wrapper node (e.g. a Python
// decorated_definition) and then absorbs contiguous preceding
// comment/decorator siblings so a chunk includes its own doc comment.
func expandSpan(node *sitter.Node) span {
	target := node
	for target.Parent() != nil {
		if _, ok := wrapperNodeTypes[target.Parent().Type()]; ok {
			target = target.Parent()
			continue
		}
		break
	}

	start := target
	for {
		prev := start.PrevSibling()
		if prev == nil {
			break
		}
		if _, ok := commentNodeTypes[prev.Type()]; !ok {
			break
		}
		start = prev
	}

	return span{start: start.StartByte(), end: target.EndByte()}
}

func blockName(g grammar, node *sitter.Node, source []byte) string {
	if g.nameFunc != nil {
		return g.nameFunc(node, source)
	}
	nameNode := node.ChildByFieldName(g.nameField)
	if nameNode == nil {
		return ""
	}
	return string(source[nameNode.StartByte():nameNode.EndByte()])
}

func collectByType(root *sitter.Node, types []string) []*sitter.Node {
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if _, ok := wanted[n.Type()]; ok {
			out = append(out, n)
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}

// declaratorIdentifierName extracts a C function's name from its
// declarator subtree — C has no dedicated "name" field, so the
// identifier has to be found by walking the declarator.
func declaratorIdentifierName(node *sitter.Node, source []byte) string {
	declarator := node.ChildByFieldName("declarator")
	if declarator == nil {
		return ""
	}
	return firstDescendantText(declarator, "identifier", source)
}

// cppBlockName extracts a name for a C++ function_definition (via its
// declarator, like C) or class/struct_specifier (via its name field).
func cppBlockName(node *sitter.Node, source []byte) string {
	if node.Type() == "function_definition" {
		return declaratorIdentifierName(node, source)
	}
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	return string(source[nameNode.StartByte():nameNode.EndByte()])
}

func firstDescendantText(root *sitter.Node, nodeType string, source []byte) string {
	if root == nil {
		return ""
	}
	if root.Type() == nodeType {
		return string(source[root.StartByte():root.EndByte()])
	}
	for i := 0; i < int(root.ChildCount()); i++ {
		if text := firstDescendantText(root.Child(i), nodeType, source); text != "" {
			return text
		}
	}
	return ""
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// lineIndex resolves byte offsets to 1-indexed line numbers.
type lineIndex struct {
	offsets []int
}

func newLineIndex(source []byte) lineIndex {
	offsets := []int{0}
	for i, b := range source {
		if b == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return lineIndex{offsets: offsets}
}

func (l lineIndex) lineAt(byteOffset uint32) int {
	off := int(byteOffset)
	lo, hi := 0, len(l.offsets)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if l.offsets[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}
