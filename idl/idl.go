// Package idl describes RPC services: a service name and an ordered list of
// methods, each with ordered typed parameters and one return type.
//
// A Declaration is the single source both stubs are produced from, so the
// client proxy and the server wrapper always agree on method names,
// parameter order and types. Types are Go type expressions ("string",
// "[]byte", "map[string]int64", "*Point", "time.Time").
package idl

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

type Param struct {
	Name string
	Type string
}

type Method struct {
	Name    string // wire name
	Params  []Param
	Returns string
	// Errors marks an implementation that also returns an error. It has no
	// effect on the wire.
	Errors bool
}

// GoName is the exported Go identifier bound to the method.
func (m Method) GoName() string { return GoName(m.Name) }

func (m Method) String() string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.Name + " " + p.Type
	}
	ret := m.Returns
	if m.Errors {
		ret = "(" + ret + ", error)"
	}
	return fmt.Sprintf("%s(%s) %s", m.Name, strings.Join(params, ", "), ret)
}

// Declaration is an immutable service description.
type Declaration struct {
	name    string
	methods []Method
	index   map[string]int
}

// NewDeclaration validates and freezes a service description.
func NewDeclaration(name string, methods ...Method) (*Declaration, error) {
	if !token.IsIdentifier(name) {
		return nil, &Error{Service: name, Err: errors.Errorf("invalid service name %q", name)}
	}

	d := &Declaration{
		name:    name,
		methods: make([]Method, 0, len(methods)),
		index:   make(map[string]int, len(methods)),
	}
	for _, m := range methods {
		if err := validateMethod(name, m); err != nil {
			return nil, err
		}
		if _, dup := d.index[m.Name]; dup {
			return nil, &Error{Service: name, Method: m.Name, Err: errors.New("duplicate method name")}
		}
		goName := GoName(m.Name)
		for _, other := range d.methods {
			if other.GoName() == goName {
				return nil, &Error{Service: name, Method: m.Name,
					Err: errors.Errorf("method binds to the same Go name as %q", other.Name)}
			}
		}
		m.Params = append([]Param(nil), m.Params...)
		d.index[m.Name] = len(d.methods)
		d.methods = append(d.methods, m)
	}
	return d, nil
}

// MustDeclare is NewDeclaration for package-level declarations; it panics on
// an invalid description.
func MustDeclare(name string, methods ...Method) *Declaration {
	d, err := NewDeclaration(name, methods...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Declaration) Name() string { return d.name }

// Methods returns the methods in declared order.
func (d *Declaration) Methods() []Method {
	out := make([]Method, len(d.methods))
	for i, m := range d.methods {
		m.Params = append([]Param(nil), m.Params...)
		out[i] = m
	}
	return out
}

func (d *Declaration) Method(name string) (Method, bool) {
	i, ok := d.index[name]
	if !ok {
		return Method{}, false
	}
	m := d.methods[i]
	m.Params = append([]Param(nil), m.Params...)
	return m, true
}

func (d *Declaration) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "service %s {", d.name)
	for _, m := range d.methods {
		fmt.Fprintf(&b, " %s;", m)
	}
	b.WriteString(" }")
	return b.String()
}

func validateMethod(service string, m Method) error {
	fail := func(format string, args ...any) error {
		return &Error{Service: service, Method: m.Name, Err: errors.Errorf(format, args...)}
	}

	if !token.IsIdentifier(m.Name) {
		return fail("invalid method name %q", m.Name)
	}
	seen := make(map[string]bool, len(m.Params))
	for i, p := range m.Params {
		if !token.IsIdentifier(p.Name) {
			return fail("parameter %d: invalid name %q", i, p.Name)
		}
		if seen[p.Name] {
			return fail("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = true
		if err := ValidateType(p.Type); err != nil {
			return fail("parameter %s: %v", p.Name, err)
		}
	}
	if m.Returns == "" {
		return fail("missing return type")
	}
	if err := ValidateType(m.Returns); err != nil {
		return fail("return: %v", err)
	}
	return nil
}

// ValidateType checks that expr is a Go type expression with a wire encoding.
func ValidateType(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return errors.New("empty type")
	}
	e, err := parser.ParseExpr(expr)
	if err != nil {
		return errors.Wrapf(err, "type %q", expr)
	}
	if !wireType(e) {
		return errors.Errorf("type %q has no wire encoding", expr)
	}
	return nil
}

func wireType(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.Ident:
		switch x.Name {
		case "any", "error", "complex64", "complex128", "uintptr":
			return false
		}
		return true
	case *ast.SelectorExpr:
		_, ok := x.X.(*ast.Ident)
		return ok
	case *ast.StarExpr:
		return wireType(x.X)
	case *ast.ParenExpr:
		return wireType(x.X)
	case *ast.ArrayType:
		if x.Len != nil {
			if _, ok := x.Len.(*ast.BasicLit); !ok {
				return false
			}
		}
		return wireType(x.Elt)
	case *ast.MapType:
		return wireType(x.Key) && wireType(x.Value)
	}
	return false
}

// GoName maps a wire method name to the exported Go method implementing it.
func GoName(name string) string {
	r, n := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[n:]
}

// WireName maps an exported Go method name to its wire name.
func WireName(name string) string {
	r, n := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToLower(r)) + name[n:]
}

// Error is an invalid service description.
type Error struct {
	Service string
	Method  string
	Err     error
}

func (e *Error) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("idl: %s.%s: %v", e.Service, e.Method, e.Err)
	}
	return fmt.Sprintf("idl: %s: %v", e.Service, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }
