package idl

import (
	"fmt"
	"go/ast"
	"go/parser"
	"path"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// FromInterface derives a declaration from a Go interface type. Methods come
// in the order reflect reports them (sorted by name); parameters are named
// arg0, arg1, ... since reflection does not keep parameter names.
//
//	decl, err := idl.FromInterface("Echo", reflect.TypeOf((*Echo)(nil)).Elem())
func FromInterface(name string, iface reflect.Type) (*Declaration, error) {
	if iface != nil && iface.Kind() == reflect.Ptr {
		iface = iface.Elem()
	}
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, &Error{Service: name, Err: errors.Errorf("%v is not an interface type", iface)}
	}

	methods := make([]Method, 0, iface.NumMethod())
	for i := 0; i < iface.NumMethod(); i++ {
		rm := iface.Method(i)
		m, err := methodFromFunc(rm.Name, rm.Type, 0)
		if err != nil {
			return nil, &Error{Service: name, Method: rm.Name, Err: err}
		}
		methods = append(methods, m)
	}
	return NewDeclaration(name, methods...)
}

// methodFromFunc builds a Method from a func type, skipping the first skip
// inputs (1 for a method value's receiver).
func methodFromFunc(goName string, ft reflect.Type, skip int) (Method, error) {
	if ft.IsVariadic() {
		return Method{}, errors.New("variadic methods are not supported")
	}
	m := Method{Name: WireName(goName)}
	for i := skip; i < ft.NumIn(); i++ {
		m.Params = append(m.Params, Param{
			Name: "arg" + strconv.Itoa(i-skip),
			Type: TypeExpr(ft.In(i)),
		})
	}
	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		m.Errors = true
	default:
		return Method{}, errors.Errorf("want results T or (T, error), have %d", ft.NumOut())
	}
	m.Returns = TypeExpr(ft.Out(0))
	return m, nil
}

// TypeExpr renders t as a Go type expression.
func TypeExpr(t reflect.Type) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return path.Base(t.PkgPath()) + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Ptr:
		return "*" + TypeExpr(t.Elem())
	case reflect.Slice:
		return "[]" + TypeExpr(t.Elem())
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), TypeExpr(t.Elem()))
	case reflect.Map:
		return "map[" + TypeExpr(t.Key()) + "]" + TypeExpr(t.Elem())
	}
	return t.String()
}

// TypeMatches reports whether the Go type t satisfies the type expression
// expr. Package qualifiers are matched against the last element of t's
// package path, and an unqualified name matches a named type of any package.
func TypeMatches(expr string, t reflect.Type) bool {
	if t == nil {
		return false
	}
	e, err := parser.ParseExpr(expr)
	if err != nil {
		return false
	}
	return matches(e, t)
}

func matches(e ast.Expr, t reflect.Type) bool {
	switch x := e.(type) {
	case *ast.Ident:
		name := x.Name
		switch name {
		case "byte":
			name = "uint8"
		case "rune":
			name = "int32"
		}
		return t.Name() == name
	case *ast.SelectorExpr:
		pkg, ok := x.X.(*ast.Ident)
		return ok && t.Name() == x.Sel.Name && path.Base(t.PkgPath()) == pkg.Name
	case *ast.ParenExpr:
		return matches(x.X, t)
	case *ast.StarExpr:
		return t.Kind() == reflect.Ptr && matches(x.X, t.Elem())
	case *ast.ArrayType:
		if x.Len == nil {
			return t.Kind() == reflect.Slice && matches(x.Elt, t.Elem())
		}
		lit, ok := x.Len.(*ast.BasicLit)
		if !ok || t.Kind() != reflect.Array {
			return false
		}
		n, err := strconv.Atoi(lit.Value)
		return err == nil && n == t.Len() && matches(x.Elt, t.Elem())
	case *ast.MapType:
		return t.Kind() == reflect.Map && matches(x.Key, t.Key()) && matches(x.Value, t.Elem())
	}
	return false
}
