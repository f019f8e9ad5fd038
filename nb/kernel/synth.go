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
	"bytes"
	"fmt"
	"go/format"
	"go/printer"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// debugFusion enables debug output of synthesized kernels.
var debugFusion = os.Getenv("NB_DEBUG_FUSION") != ""

func debugPrint(format string, args ...any) {
	if debugFusion {
		fmt.Fprintf(os.Stderr, "[fusion] "+format+"\n", args...)
	}
}

// funcName is the name of the synthesized pair function.
const funcName = "computePair"

// synthesis holds everything that shapes the fused source of one kernel set.
type synthesis struct {
	groups uint32
	terms  []Interaction
	params []Parameter
	args   []Argument

	// derivs are the parameters whose energy derivatives are accumulated,
	// accumulator i belonging to derivs[i].
	derivs []string
}

// groupCutoffs returns the cutoff of every force group that has a term
// using one, ascending by group.
func (s *synthesis) groupCutoffs() []lo.Entry[int, float64] {
	cutoffs := make(map[int]float64)
	for _, t := range s.terms {
		if _, seen := cutoffs[t.Group]; t.UsesCutoff && !seen {
			cutoffs[t.Group] = t.Cutoff
		}
	}
	entries := lo.Entries(cutoffs)
	slices.SortFunc(entries, func(a, b lo.Entry[int, float64]) int { return a.Key - b.Key })
	return entries
}

// render produces the gofmt'd source of one kernel variant.
func (s *synthesis) render(mode Mode, exclusions bool) (string, error) {
	frags := make([]*fragment, len(s.terms))
	for k, t := range s.terms {
		f, err := parseFragment(t, k, len(s.derivs))
		if err != nil {
			return "", err
		}
		frags[k] = f
	}

	var buf bytes.Buffer
	buf.WriteString("// Code generated by nb/kernel. DO NOT EDIT.\n\n")
	tiles := "tiles without exclusions"
	if exclusions {
		tiles = "exclusion tiles"
	}
	fmt.Fprintf(&buf, "// Force groups %#x: %s, %s.\n\npackage fused\n\n", s.groups, mode, tiles)

	if cutoffs := s.groupCutoffs(); len(cutoffs) > 0 {
		buf.WriteString("const (\n")
		for _, c := range cutoffs {
			suffix := "_" + strconv.Itoa(c.Key)
			fmt.Fprintf(&buf, "\t%s%s = %s\n", cutoffName, suffix, formatFloat(c.Value))
			fmt.Fprintf(&buf, "\t%s%s = %s\n", cutoffSquaredName, suffix, formatFloat(c.Value*c.Value))
		}
		buf.WriteString(")\n\n")
	}

	fmt.Fprintf(&buf, "func %s(%s) (%s) {\n", funcName, s.signature(exclusions), s.results())
	for _, f := range frags {
		if err := s.renderTerm(&buf, f, mode, exclusions); err != nil {
			return "", err
		}
	}
	buf.WriteString("\treturn\n}\n")

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return "", &CompileError{Source: buf.String(), Msg: "formatting synthesized source: " + err.Error()}
	}
	debugPrint("groups %#x, %s, exclusions=%t:\n%s", s.groups, mode, exclusions, src)
	return string(src), nil
}

func (s *synthesis) renderTerm(buf *bytes.Buffer, f *fragment, mode Mode, exclusions bool) error {
	p := f.prefix()
	fmt.Fprintf(buf, "\t// %s\n\t{\n", f)
	fmt.Fprintf(buf, "\t\t%s%s, %s%s := 0.0, 0.0\n", p, nameEnergy, p, nameDEdR)
	for i, used := range f.derivs {
		if used {
			fmt.Fprintf(buf, "\t\t%s%s := 0.0\n", p, DerivativeName(i))
		}
	}

	var guards []string
	if exclusions && f.term.UsesExclusions {
		guards = append(guards, "!"+nameExcluded)
	}
	if f.term.UsesCutoff {
		guards = append(guards, fmt.Sprintf("%s < %s_%d", nameR2, cutoffSquaredName, f.term.Group))
	}
	if len(guards) > 0 {
		fmt.Fprintf(buf, "\t\tif %s {\n", strings.Join(guards, " && "))
	}
	for _, stmt := range f.stmts {
		if err := printer.Fprint(buf, f.fset, stmt); err != nil {
			return fmt.Errorf("kernel: printing %s: %w", f, err)
		}
		buf.WriteByte('\n')
	}
	if len(guards) > 0 {
		buf.WriteString("\t\t}\n")
	}

	if mode.energy() {
		fmt.Fprintf(buf, "\t\t%s += %s%s\n", nameEnergy, p, nameEnergy)
		for i, used := range f.derivs {
			if used {
				name := DerivativeName(i)
				fmt.Fprintf(buf, "\t\t%s += %s%s\n", name, p, name)
			}
		}
	}
	if mode.forces() {
		fmt.Fprintf(buf, "\t\t%s += %s%s\n", nameDEdR, p, nameDEdR)
	}
	buf.WriteString("\t}\n")
	return nil
}

// signature lists the inputs of the pair function.
func (s *synthesis) signature(exclusions bool) string {
	parts := []string{nameR + ", " + nameR2 + ", " + nameInvR + " float64"}
	if exclusions {
		parts = append(parts, nameExcluded+" bool")
	}
	if len(s.params) > 0 {
		names := lo.FlatMap(s.params, func(p Parameter, _ int) []string {
			return []string{p.Name + "1", p.Name + "2"}
		})
		parts = append(parts, strings.Join(names, ", ")+" float64")
	}
	for _, a := range s.args {
		if a.Scalar() {
			parts = append(parts, a.Name+" float64")
		} else {
			parts = append(parts, a.Name+" []float64")
		}
	}
	return strings.Join(parts, ", ")
}

// results lists the outputs of the pair function.
func (s *synthesis) results() string {
	names := []string{nameEnergy, nameDEdR}
	for i := range s.derivs {
		names = append(names, DerivativeName(i))
	}
	return strings.Join(names, ", ") + " float64"
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
