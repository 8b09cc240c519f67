package ir

import (
	"fmt"
	"strings"
)

// Print renders the module in a deterministic MLIR-like text form. Value
// names are numbered per function in definition order.
func Print(m *Module) string {
	p := &printer{m: m}
	p.sb.WriteString("module {\n")
	for _, op := range m.blocks[m.Body()].Ops {
		p.names = make(map[ValueID]string)
		p.next = 0
		p.printOp(op, 1)
	}
	p.sb.WriteString("}\n")
	return p.sb.String()
}

// PrintOp renders a single op and its regions.
func PrintOp(m *Module, op OpID) string {
	p := &printer{m: m, names: make(map[ValueID]string)}
	p.printOp(op, 0)
	return p.sb.String()
}

type printer struct {
	m     *Module
	sb    strings.Builder
	names map[ValueID]string
	next  int
}

func (p *printer) define(v ValueID) string {
	name := fmt.Sprintf("%%%d", p.next)
	p.next++
	p.names[v] = name
	return name
}

func (p *printer) ref(v ValueID) string {
	if n, ok := p.names[v]; ok {
		return n
	}
	return "%<undef>"
}

func (p *printer) indent(depth int) {
	p.sb.WriteString(strings.Repeat("  ", depth))
}

func (p *printer) printOp(op OpID, depth int) {
	o := p.m.ops[op]
	if o.Kind == KindFunc {
		p.printFunc(op, depth)
		return
	}
	p.indent(depth)
	if len(o.Results) > 0 {
		names := make([]string, len(o.Results))
		for i, r := range o.Results {
			names[i] = p.define(r)
		}
		p.sb.WriteString(strings.Join(names, ", "))
		p.sb.WriteString(" = ")
	}
	p.sb.WriteString(o.Kind.String())
	if len(o.Operands) > 0 {
		refs := make([]string, len(o.Operands))
		for i, v := range o.Operands {
			refs[i] = p.ref(v)
		}
		p.sb.WriteString(" ")
		p.sb.WriteString(strings.Join(refs, ", "))
	}
	p.printAttrs(o, nil)
	if len(o.Results) > 0 {
		p.sb.WriteString(" : ")
		p.sb.WriteString(joinTypes(p.m.ResultTypes(op)))
	}
	for _, r := range o.Regions {
		p.printRegion(r, depth, true)
	}
	p.sb.WriteString("\n")
}

func (p *printer) printAttrs(o *Op, skip map[string]bool) {
	var parts []string
	for _, k := range o.Attrs.SortedKeys() {
		if skip[k] {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = %s", k, o.Attrs[k]))
	}
	if o.Segments != nil {
		segs := make([]int64, len(o.Segments))
		for i, s := range o.Segments {
			segs[i] = int64(s)
		}
		parts = append(parts, fmt.Sprintf("%s = %s", AttrSegments, DenseIntsAttr(segs)))
	}
	if len(parts) == 0 {
		return
	}
	p.sb.WriteString(" {")
	p.sb.WriteString(strings.Join(parts, ", "))
	p.sb.WriteString("}")
}

func (p *printer) printRegion(r RegionID, depth int, headers bool) {
	p.sb.WriteString(" {\n")
	for i, b := range p.m.regions[r].Blocks {
		blk := p.m.blocks[b]
		if headers && (len(blk.Args) > 0 || i > 0) {
			p.indent(depth)
			args := make([]string, len(blk.Args))
			for j, a := range blk.Args {
				args[j] = fmt.Sprintf("%s: %s", p.define(a), p.m.values[a].Type)
			}
			fmt.Fprintf(&p.sb, "^bb%d(%s):\n", i, strings.Join(args, ", "))
		}
		for _, op := range blk.Ops {
			p.printOp(op, depth+1)
		}
	}
	p.indent(depth)
	p.sb.WriteString("}")
}

func (p *printer) printFunc(op OpID, depth int) {
	f := AsFunc(p.m, op)
	o := p.m.ops[op]
	t := f.Type()
	p.indent(depth)
	p.sb.WriteString("func.func ")
	if f.IsPrivate() {
		p.sb.WriteString("private ")
	}
	p.sb.WriteString("@" + f.Name() + "(")
	if f.IsDeclaration() {
		p.sb.WriteString(joinTypes(t.Inputs))
	} else {
		args := make([]string, len(f.Args()))
		for i, a := range f.Args() {
			args[i] = fmt.Sprintf("%s: %s", p.define(a), p.m.values[a].Type)
		}
		p.sb.WriteString(strings.Join(args, ", "))
	}
	p.sb.WriteString(") -> (" + joinTypes(t.Results) + ")")
	skip := map[string]bool{AttrSymName: true, AttrFunctionType: true, AttrVisibility: true}
	var extra []string
	for _, k := range o.Attrs.SortedKeys() {
		if !skip[k] {
			extra = append(extra, fmt.Sprintf("%s = %s", k, o.Attrs[k]))
		}
	}
	if len(extra) > 0 {
		p.sb.WriteString(" attributes {" + strings.Join(extra, ", ") + "}")
	}
	if !f.IsDeclaration() {
		p.printRegion(o.Regions[0], depth, false)
	}
	p.sb.WriteString("\n")
}
