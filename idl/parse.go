package idl

import (
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"path"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// File is a declaration read from Go source.
type File struct {
	Package     string
	Imports     []Import // imports the declaration's types refer to
	Declaration *Declaration
}

// Import is one import spec; Name is empty unless the source renamed it.
type Import struct {
	Name string
	Path string
}

// ParseSource reads the interface named iface from Go source and derives a
// declaration named after it. src follows go/parser.ParseFile: nil reads
// filename, otherwise a string, []byte or io.Reader.
//
// Parameter names and method order are kept as written. Embedded interfaces,
// variadic parameters and result lists other than T or (T, error) are
// rejected.
func ParseSource(filename string, src any, iface string) (*File, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, errors.Wrapf(err, "idl: parse %s", filename)
	}

	it := findInterface(f, iface)
	if it == nil {
		return nil, &Error{Service: iface, Err: errors.Errorf("no interface %s in %s", iface, filename)}
	}

	var methods []Method
	used := map[string]bool{}
	for _, field := range it.Methods.List {
		if len(field.Names) == 0 {
			return nil, &Error{Service: iface, Err: errors.Errorf("embedded interface %s is not supported", types.ExprString(field.Type))}
		}
		ft, ok := field.Type.(*ast.FuncType)
		if !ok {
			continue
		}
		goName := field.Names[0].Name
		m, err := methodFromAST(goName, ft, used)
		if err != nil {
			return nil, &Error{Service: iface, Method: goName, Err: err}
		}
		methods = append(methods, m)
	}

	decl, err := NewDeclaration(iface, methods...)
	if err != nil {
		return nil, err
	}
	return &File{
		Package:     f.Name.Name,
		Imports:     usedImports(f, used),
		Declaration: decl,
	}, nil
}

func findInterface(f *ast.File, name string) *ast.InterfaceType {
	for _, d := range f.Decls {
		gd, ok := d.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts := spec.(*ast.TypeSpec)
			if ts.Name.Name != name {
				continue
			}
			if it, ok := ts.Type.(*ast.InterfaceType); ok {
				return it
			}
		}
	}
	return nil
}

func methodFromAST(goName string, ft *ast.FuncType, used map[string]bool) (Method, error) {
	m := Method{Name: WireName(goName)}
	n := 0
	for _, field := range ft.Params.List {
		if _, ok := field.Type.(*ast.Ellipsis); ok {
			return Method{}, errors.New("variadic methods are not supported")
		}
		typ := types.ExprString(field.Type)
		collectPackages(field.Type, used)
		if len(field.Names) == 0 {
			m.Params = append(m.Params, Param{Name: "arg" + strconv.Itoa(n), Type: typ})
			n++
			continue
		}
		for _, name := range field.Names {
			pname := name.Name
			if pname == "_" {
				pname = "arg" + strconv.Itoa(n)
			}
			m.Params = append(m.Params, Param{Name: pname, Type: typ})
			n++
		}
	}

	var results []ast.Expr
	if ft.Results != nil {
		for _, field := range ft.Results.List {
			count := len(field.Names)
			if count == 0 {
				count = 1
			}
			for i := 0; i < count; i++ {
				results = append(results, field.Type)
			}
		}
	}
	switch {
	case len(results) == 1 && !isError(results[0]):
	case len(results) == 2 && isError(results[1]) && !isError(results[0]):
		m.Errors = true
	default:
		return Method{}, errors.Errorf("want results T or (T, error), have %d", len(results))
	}
	collectPackages(results[0], used)
	m.Returns = types.ExprString(results[0])
	return m, nil
}

func isError(e ast.Expr) bool {
	id, ok := e.(*ast.Ident)
	return ok && id.Name == "error"
}

func collectPackages(e ast.Expr, used map[string]bool) {
	ast.Inspect(e, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				used[id.Name] = true
			}
			return false
		}
		return true
	})
}

func usedImports(f *ast.File, used map[string]bool) []Import {
	var out []Import
	for _, spec := range f.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		imp := Import{Path: p}
		name := path.Base(p)
		if spec.Name != nil {
			imp.Name = spec.Name.Name
			name = imp.Name
		}
		if used[name] {
			out = append(out, imp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
