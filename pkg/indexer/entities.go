package indexer

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"
)

// CodeEntity is one indexed declaration.
type CodeEntity struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // function, method, class, type
	Language  string `json:"language"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Signature string `json:"signature"`
	Snippet   string `json:"snippet"`
}

// snippetLineLimit bounds how much of each entity body is embedded.
const snippetLineLimit = 40

// ExtractEntities pulls declarations from one source file. Go files get a
// real parse; python and javascript rely on line heuristics, which is
// plenty for retrieval purposes.
func ExtractEntities(path string, content []byte) []CodeEntity {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return extractGo(path, content)
	case ".py":
		return extractPython(path, string(content))
	case ".js", ".jsx", ".ts", ".tsx":
		return extractJavaScript(path, string(content))
	default:
		return nil
	}
}

func extractGo(path string, content []byte) []CodeEntity {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil
	}
	lines := strings.Split(string(content), "\n")

	var entities []CodeEntity
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind := "function"
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				kind = "method"
				name = receiverName(d.Recv.List[0].Type) + "." + name
			}
			start := fset.Position(d.Pos())
			end := fset.Position(d.End())
			entities = append(entities, CodeEntity{
				Name:      name,
				Kind:      kind,
				Language:  "go",
				File:      path,
				Line:      start.Line,
				Signature: firstLine(lines, start.Line),
				Snippet:   snippet(lines, start.Line, end.Line),
			})
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				start := fset.Position(ts.Pos())
				end := fset.Position(ts.End())
				entities = append(entities, CodeEntity{
					Name:      ts.Name.Name,
					Kind:      "type",
					Language:  "go",
					File:      path,
					Line:      start.Line,
					Signature: firstLine(lines, start.Line),
					Snippet:   snippet(lines, start.Line, end.Line),
				})
			}
		}
	}
	return entities
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	default:
		return "recv"
	}
}

var (
	pyDefRe   = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)
	pyClassRe = regexp.MustCompile(`^(\s*)class\s+(\w+)`)
)

func extractPython(path, content string) []CodeEntity {
	lines := strings.Split(content, "\n")
	var entities []CodeEntity
	var currentClass string
	var classIndent int

	for i, line := range lines {
		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			currentClass = m[2]
			classIndent = len(m[1])
			entities = append(entities, CodeEntity{
				Name:      m[2],
				Kind:      "class",
				Language:  "python",
				File:      path,
				Line:      i + 1,
				Signature: strings.TrimSpace(line),
				Snippet:   blockSnippet(lines, i, len(m[1])),
			})
			continue
		}
		if m := pyDefRe.FindStringSubmatch(line); m != nil {
			indent := len(m[1])
			name := m[2]
			kind := "function"
			if currentClass != "" && indent > classIndent {
				kind = "method"
				name = currentClass + "." + name
			} else {
				currentClass = ""
			}
			entities = append(entities, CodeEntity{
				Name:      name,
				Kind:      kind,
				Language:  "python",
				File:      path,
				Line:      i + 1,
				Signature: strings.TrimSpace(line),
				Snippet:   blockSnippet(lines, i, indent),
			})
		}
	}
	return entities
}

var jsEntityRes = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"class", regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+(\w+)`)},
	{"function", regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`)},
	{"function", regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>`)},
	{"type", regexp.MustCompile(`^\s*(?:export\s+)?(?:interface|type)\s+(\w+)`)},
}

func extractJavaScript(path, content string) []CodeEntity {
	language := "javascript"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".ts" || ext == ".tsx" {
		language = "typescript"
	}

	lines := strings.Split(content, "\n")
	var entities []CodeEntity
	for i, line := range lines {
		for _, er := range jsEntityRes {
			m := er.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			entities = append(entities, CodeEntity{
				Name:      m[1],
				Kind:      er.kind,
				Language:  language,
				File:      path,
				Line:      i + 1,
				Signature: strings.TrimSpace(line),
				Snippet:   blockSnippet(lines, i, indent),
			})
			break
		}
	}
	return entities
}

func firstLine(lines []string, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

func snippet(lines []string, startLine, endLine int) string {
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if endLine-startLine+1 > snippetLineLimit {
		endLine = startLine + snippetLineLimit - 1
	}
	return strings.Join(lines[startLine-1:endLine], "\n")
}

// blockSnippet collects the indentation block starting at start (0-based),
// stopping at the next non-blank line at or below the opening indent.
func blockSnippet(lines []string, start, indent int) string {
	end := start + 1
	for end < len(lines) && end-start < snippetLineLimit {
		line := lines[end]
		if strings.TrimSpace(line) != "" {
			cur := len(line) - len(strings.TrimLeft(line, " \t"))
			if cur <= indent {
				break
			}
		}
		end++
	}
	return strings.Join(lines[start:end], "\n")
}
