// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

// Fixed names visible to fragments.
const (
	nameR        = "r"
	nameR2       = "r2"
	nameInvR     = "invR"
	nameExcluded = "excluded"
	nameEnergy   = "energy"
	nameDEdR     = "dEdR"

	cutoffName        = "CUTOFF"
	cutoffSquaredName = "CUTOFF_SQUARED"

	// selectName spells the select builtin after parsing, since select is
	// a Go keyword.
	selectName = "select_"
)

const fragmentHeader = "package fragment\n\nfunc _() {\n"

// fragment is the parsed body of one term, renamed into its own namespace.
type fragment struct {
	term  Interaction
	index int
	fset  *token.FileSet
	stmts []ast.Stmt

	// derivs marks the accumulators the term writes.
	derivs []bool
}

// prefix is the namespace of term locals and outputs.
func (f *fragment) prefix() string {
	return "t" + strconv.Itoa(f.index) + "_"
}

// parseFragment parses term.Source as a statement list.
func parseFragment(term Interaction, index, numDerivs int) (*fragment, error) {
	src := fragmentHeader + rewriteSelect(term.Source) + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, term.Name+".go", src, parser.SkipObjectResolution)
	if err != nil {
		ce := &CompileError{Term: term.Name, Source: src, Msg: err.Error()}
		var list scanner.ErrorList
		if errors.As(err, &list) && len(list) > 0 {
			ce.Pos, ce.Msg = list[0].Pos, list[0].Msg
		}
		return nil, ce
	}
	if len(file.Decls) != 1 {
		return nil, &CompileError{Term: term.Name, Source: src, Msg: "fragment must be a list of statements"}
	}
	body := file.Decls[0].(*ast.FuncDecl).Body
	f := &fragment{
		term:   term,
		index:  index,
		fset:   fset,
		stmts:  body.List,
		derivs: make([]bool, numDerivs),
	}
	f.rename(body)
	return f, nil
}

// rewriteSelect replaces the keyword select with selectName wherever it is
// called like a function. Scan errors are left for the parser to report.
func rewriteSelect(src string) string {
	if !strings.Contains(src, "select") {
		return src
	}
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))
	var s scanner.Scanner
	s.Init(file, []byte(src), nil, 0)

	var out strings.Builder
	last, pending := 0, -1
	for {
		pos, tok, _ := s.Scan()
		if tok == token.EOF {
			break
		}
		if pending >= 0 && tok == token.LPAREN {
			out.WriteString(src[last:pending])
			out.WriteString(selectName)
			last = pending + len(token.SELECT.String())
		}
		pending = -1
		if tok == token.SELECT {
			pending = file.Offset(pos)
		}
	}
	out.WriteString(src[last:])
	return out.String()
}

// rename moves term locals and outputs into the term's namespace and binds
// the cutoff placeholders to the term's force group.
func (f *fragment) rename(body *ast.BlockStmt) {
	locals := make(map[string]bool)
	ast.Inspect(body, func(n ast.Node) bool {
		if as, ok := n.(*ast.AssignStmt); ok && as.Tok == token.DEFINE {
			for _, lhs := range as.Lhs {
				if id, ok := lhs.(*ast.Ident); ok {
					locals[id.Name] = true
				}
			}
		}
		return true
	})

	prefix := f.prefix()
	group := "_" + strconv.Itoa(f.term.Group)
	astutil.Apply(body, func(c *astutil.Cursor) bool {
		id, ok := c.Node().(*ast.Ident)
		if !ok {
			return true
		}
		if _, isSel := c.Parent().(*ast.SelectorExpr); isSel && c.Name() == "Sel" {
			return true
		}
		switch {
		case id.Name == cutoffName || id.Name == cutoffSquaredName:
			c.Replace(ast.NewIdent(id.Name + group))
		case id.Name == nameEnergy || id.Name == nameDEdR:
			c.Replace(ast.NewIdent(prefix + id.Name))
		case f.derivIndex(id.Name) >= 0:
			f.derivs[f.derivIndex(id.Name)] = true
			c.Replace(ast.NewIdent(prefix + id.Name))
		case locals[id.Name] && !isInput(id.Name):
			c.Replace(ast.NewIdent(prefix + id.Name))
		}
		return true
	}, nil)
}

// derivIndex returns i for "energyParamDeriv<i>" when i names a requested
// derivative, or -1.
func (f *fragment) derivIndex(name string) int {
	rest, ok := strings.CutPrefix(name, "energyParamDeriv")
	if !ok {
		return -1
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 || i >= len(f.derivs) || DerivativeName(i) != name {
		return -1
	}
	return i
}

// isInput reports names a fragment may read but not declare. Declaring one
// is left for the compiler to reject against the rendered source.
func isInput(name string) bool {
	switch name {
	case nameR, nameR2, nameInvR, nameExcluded:
		return true
	}
	return false
}

func (f *fragment) String() string {
	return fmt.Sprintf("%s (group %d)", f.term.Name, f.term.Group)
}
