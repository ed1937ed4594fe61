package gen

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stub-rpc/idl"
)

var helloDecl = idl.MustDeclare("HelloService",
	idl.Method{Name: "test", Params: []idl.Param{{Name: "test", Type: "string"}}, Returns: "string"},
)

// funcs lists "Recv.Name" for methods and "Name" for functions.
func funcs(f *ast.File) []string {
	var out []string
	for _, d := range f.Decls {
		fd, ok := d.(*ast.FuncDecl)
		if !ok {
			continue
		}
		name := fd.Name.Name
		if fd.Recv != nil {
			star := fd.Recv.List[0].Type.(*ast.StarExpr)
			name = star.X.(*ast.Ident).Name + "." + name
		}
		out = append(out, name)
	}
	return out
}

func parse(t *testing.T, src []byte) *ast.File {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "out.go", src, parser.ParseComments)
	require.NoError(t, err, "%s", src)
	return f
}

func TestGenerateHello(t *testing.T) {
	src, err := Generate(Options{Package: "hello", Interface: "HelloService", Source: "hello.go"}, helloDecl)
	require.NoError(t, err)

	f := parse(t, src)
	assert.Equal(t, "hello", f.Name.Name)
	assert.ElementsMatch(t, []string{
		"NewHelloServiceClient",
		"HelloServiceClient.Close",
		"HelloServiceClient.Test",
		"NewHelloServiceWrapper",
		"HelloServiceWrapper.Declaration",
		"HelloServiceWrapper.Handle",
		"HelloServiceWrapper.handleTest",
		"RegisterHelloService",
	}, funcs(f))

	out := string(src)
	assert.True(t, strings.HasPrefix(out, "// Code generated by stubgen. DO NOT EDIT.\n"))
	assert.Contains(t, out, `idl.Method{Name: "test", Params: []idl.Param{{Name: "test", Type: "string"}}, Returns: "string"}`)
	assert.Contains(t, out, `func (c *HelloServiceClient) Test(test string) (reply string, err error) {`)
	assert.Contains(t, out, `err = c.proxy.Call("HelloService", "test", &reply, test)`)
	assert.Contains(t, out, `return w.impl.Test(arg0), nil`)
	// the interface already exists in the package
	assert.NotContains(t, out, "type HelloService interface")
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate(Options{Package: "hello"}, helloDecl)
	require.NoError(t, err)
	b, err := Generate(Options{Package: "hello"}, helloDecl)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateInterfaceAndImports(t *testing.T) {
	decl := idl.MustDeclare("Clock",
		idl.Method{Name: "now", Returns: "time.Time"},
		idl.Method{
			Name:    "wrap",
			Params:  []idl.Param{{Name: "c", Type: "string"}, {Name: "reply", Type: "int64"}},
			Returns: "*pb.StringValue",
			Errors:  true,
		},
	)
	src, err := Generate(Options{
		Package: "clock",
		Imports: []idl.Import{
			{Path: "time"},
			{Name: "pb", Path: "google.golang.org/protobuf/types/known/wrapperspb"},
			{Path: "context"},
			{Path: "stub-rpc/idl"},
		},
	}, decl)
	require.NoError(t, err)

	f := parse(t, src)
	var imports []string
	for _, imp := range f.Imports {
		imports = append(imports, imp.Path.Value)
	}
	assert.ElementsMatch(t, []string{
		`"context"`,
		`"stub-rpc/client"`,
		`"stub-rpc/idl"`,
		`"stub-rpc/server"`,
		`"stub-rpc/transport"`,
		`"time"`,
		`"google.golang.org/protobuf/types/known/wrapperspb"`,
	}, imports)

	out := string(src)
	assert.Contains(t, out, "type ClockServer interface {")
	assert.Contains(t, out, "Wrap(c string, reply int64) (*pb.StringValue, error)")
	// locals step around parameter names
	assert.Contains(t, out, "func (c_ *ClockClient) Wrap(c string, reply int64) (reply_ *pb.StringValue, err error) {")
	assert.Contains(t, out, `err = c_.proxy.Call("Clock", "wrap", &reply_, c, reply)`)
	assert.Contains(t, out, "return w.impl.Wrap(arg0, arg1)\n")
	assert.Contains(t, out, "func (c *ClockClient) Now() (reply time.Time, err error) {")
	assert.Contains(t, out, "[]any{}")
	assert.Contains(t, out, "func RegisterClock(r server.Registrar, impl ClockServer) error {")
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate(Options{Package: "x"}, nil)
	assert.Error(t, err)

	_, err = Generate(Options{Package: "not a name"}, helloDecl)
	assert.Error(t, err)

	closer := idl.MustDeclare("Closer", idl.Method{Name: "close", Returns: "bool"})
	_, err = Generate(Options{Package: "x"}, closer)
	var de *idl.Error
	assert.ErrorAs(t, err, &de)
}
