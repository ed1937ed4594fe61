package server

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"stub-rpc/idl"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

type methodType struct {
	method    reflect.Method
	decl      idl.Method
	withCtx   bool // implementation takes a context.Context first
	withErr   bool // implementation returns (T, error)
	ArgTypes  []reflect.Type
	ReplyType reflect.Type
}

// Service is a server wrapper built at run time: it binds each method of a
// declaration to the implementation method of the same Go name.
type Service struct {
	decl    *idl.Declaration
	rcvr    reflect.Value
	typ     reflect.Type
	method  map[string]*methodType
	methods Methods
}

// NewService 按声明逐个绑定实现的方法，签名不符即报错
//
// An implementation method matches a declared method m when it is named
// idl.GoName(m.Name), takes the declared parameters in order (optionally
// preceded by a context.Context) and returns the declared type, optionally
// followed by an error.
func NewService(decl *idl.Declaration, rcvr any) (*Service, error) {
	if decl == nil {
		return nil, errors.New("server: nil declaration")
	}
	if rcvr == nil {
		return nil, &idl.Error{Service: decl.Name(), Err: errors.New("nil implementation")}
	}
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() == reflect.Ptr && reflect.ValueOf(rcvr).IsNil() {
		return nil, &idl.Error{Service: decl.Name(), Err: errors.New("nil implementation")}
	}

	s := &Service{
		decl:    decl,
		rcvr:    reflect.ValueOf(rcvr),
		typ:     typ,
		method:  make(map[string]*methodType),
		methods: make(Methods),
	}
	for _, m := range decl.Methods() {
		mt, err := s.bind(m)
		if err != nil {
			return nil, &idl.Error{Service: decl.Name(), Method: m.Name, Err: err}
		}
		s.method[m.Name] = mt
		s.methods[m.Name] = s.methodFunc(mt)
	}
	return s, nil
}

func (s *Service) bind(m idl.Method) (*methodType, error) {
	method, ok := s.typ.MethodByName(m.GoName())
	if !ok {
		return nil, errors.Errorf("%s has no method %s", s.typ, m.GoName())
	}
	ft := method.Type
	mt := &methodType{method: method, decl: m}

	in := 1 // receiver
	if ft.NumIn() > in && ft.In(in) == contextType {
		mt.withCtx = true
		in++
	}
	if ft.IsVariadic() || ft.NumIn()-in != len(m.Params) {
		return nil, errors.Errorf("%s.%s takes %d arguments, declared %d", s.typ, method.Name, ft.NumIn()-in, len(m.Params))
	}
	for i, p := range m.Params {
		t := ft.In(in + i)
		if !idl.TypeMatches(p.Type, t) {
			return nil, errors.Errorf("parameter %s: declared %s, implementation takes %s", p.Name, p.Type, t)
		}
		mt.ArgTypes = append(mt.ArgTypes, t)
	}

	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		mt.withErr = true
	default:
		return nil, errors.Errorf("%s.%s must return T or (T, error)", s.typ, method.Name)
	}
	mt.ReplyType = ft.Out(0)
	if !idl.TypeMatches(m.Returns, mt.ReplyType) {
		return nil, errors.Errorf("return: declared %s, implementation returns %s", m.Returns, mt.ReplyType)
	}
	return mt, nil
}

func (s *Service) Name() string { return s.decl.Name() }

func (s *Service) Declaration() *idl.Declaration { return s.decl }

func (s *Service) Methods() Methods { return s.methods }

func (s *Service) Handle(ctx context.Context, req *Request) error {
	return req.Route(ctx, s.methods)
}

func (s *Service) methodFunc(mt *methodType) MethodFunc {
	return func(ctx context.Context, req *Request) error {
		argv := make([]reflect.Value, len(mt.ArgTypes))
		args := make([]any, len(mt.ArgTypes))
		for i, t := range mt.ArgTypes {
			v := reflect.New(t)
			if err := req.Decode(v.Interface()); err != nil {
				return err
			}
			argv[i] = v.Elem()
			args[i] = argv[i].Interface()
		}
		return req.Reply(ctx, args, func(ctx context.Context) (any, error) {
			return s.call(ctx, mt, argv)
		})
	}
}

// call 通过反射调用方法
func (s *Service) call(ctx context.Context, mt *methodType, argv []reflect.Value) (any, error) {
	in := make([]reflect.Value, 0, len(argv)+2)
	in = append(in, s.rcvr)
	if mt.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, argv...)

	results := mt.method.Func.Call(in)
	if mt.withErr && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}
