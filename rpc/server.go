package rpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

type methodType struct {
	sync.Mutex // protects counters
	method     reflect.Method
	ArgType    reflect.Type
	ReplyType  reflect.Type
	numCalls   uint
}

type service struct {
	name   string                 // name of service
	rcvr   reflect.Value          // receiver of methods for the service
	typ    reflect.Type           // type of the receiver
	method map[string]*methodType // registered methods
}

type Server struct {
	listener   net.Listener
	serviceMap sync.Map // map[string]*service
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
	}
}

func (srv *Server) Register(rcvr any) error {
	s := new(service)
	s.typ = reflect.TypeOf(rcvr)
	s.rcvr = reflect.ValueOf(rcvr)
	sname := reflect.Indirect(s.rcvr).Type().Name()
	if sname == "" {
		s := fmt.Sprintf("rpc.Register: no service name for type %s", s.typ.String())
		log.Error(s)
		return errors.New(s)
	}
	if !token.IsExported(sname) {
		s := "rpc.Register: type " + sname + " is not exported"
		log.Error(s)
		return errors.New(s)
	}
	s.name = sname

	// Install the methods
	s.method = suitableMethods(s.typ)
	if len(s.method) == 0 {
		str := "rpc.Register: type " + sname + " has no exported methods of suitable type"
		log.Error(str)
		return errors.New(str)
	}

	if _, dup := srv.serviceMap.LoadOrStore(sname, s); dup {
		return errors.New("rpc: service already defined: " + sname)
	}

	// Some debug logging
	for m := range s.method {
		log.Debugf("rpc.Register: %s.%s\n", sname, m)
	}

	return nil
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type, so we need to check the type name as well.
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// suitableMethods returns suitable Rpc methods of typ.
func suitableMethods(typ reflect.Type) map[string]*methodType {
	methods := make(map[string]*methodType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		mname := method.Name
		// Method must be exported.
		if !method.IsExported() {
			continue
		}
		// Method needs three ins: receiver, *args, *reply.
		if mtype.NumIn() != 3 {
			log.Errorf("rpc.Register: method %q has %d input parameters; needs exactly three\n", mname, mtype.NumIn())
			continue
		}
		// First arg need not be a pointer.
		argType := mtype.In(1)
		if !isExportedOrBuiltinType(argType) {
			log.Errorf("rpc.Register: argument type of method %q is not exported: %q\n", mname, argType)
			continue
		}
		// Second arg must be a pointer.
		replyType := mtype.In(2)
		if replyType.Kind() != reflect.Pointer {
			log.Errorf("rpc.Register: reply type of method %q is not a pointer: %q\n", mname, replyType)
			continue
		}
		// Reply type must be exported.
		if !isExportedOrBuiltinType(replyType) {
			log.Errorf("rpc.Register: reply type of method %q is not exported: %q\n", mname, replyType)
			continue
		}
		// Method needs one out.
		if mtype.NumOut() != 1 {
			log.Errorf("rpc.Register: method %q has %d output parameters; needs exactly one\n", mname, mtype.NumOut())
			continue
		}
		// The return type of the method must be error.
		if returnType := mtype.Out(0); returnType != reflect.TypeOf((*error)(nil)).Elem() {
			log.Errorf("rpc.Register: return type of method %q is %q, must be error\n", mname, returnType)
			continue
		}
		methods[mname] = &methodType{method: method, ArgType: argType, ReplyType: replyType}
	}
	return methods
}

func (srv *Server) Serve(ctx context.Context) error {
	// Start a goroutine to close the listener when the context is cancelled.
	// This will cause srv.listener.Accept() to return an error.
	go func() {
		<-ctx.Done()
		log.Infof("rpc.Server: context cancelled, initiating shutdown for listener %s", srv.listener.Addr())
		// Closing the listener will cause the Accept loop to unblock.
		err := srv.listener.Close()
		if err != nil {
			// Log if closing the listener itself failed, but proceed with shutdown.
			log.Warnf("rpc.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		rw, err := srv.listener.Accept()
		if err != nil {
			// Check if the context is cancelled. This is the primary signal for shutdown.
			select {
			case <-ctx.Done():
				// Context was cancelled, listener.Close() was called (or is about to be).
				// Accept() returning an error is expected in this case.
				log.Infof("rpc.Server: shutting down listener %s due to context cancellation.", srv.listener.Addr())
				return ctx.Err()
			default:
				// Context not cancelled yet, so the error from Accept() is for another reason.
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					if tempDelay == 0 {
						tempDelay = 5 * time.Millisecond
					} else {
						tempDelay *= 2
					}
					if max := 1 * time.Second; tempDelay > max {
						tempDelay = max
					}
					log.Warnf("rpc.Server: Accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
					time.Sleep(tempDelay)
					continue
				}
				// If the error is not a timeout, and context is not done,
				// it's likely a non-recoverable error for the listener.
				log.Errorf("rpc.Server: critical accept error on %s: %v. Server stopping.", srv.listener.Addr(), err)
				return err // Return the unexpected error.
			}
		}

		tempDelay = 0 // Reset tempDelay on successful accept
		log.Infof("rpc.Server: accepted connection from %s on %s", rw.RemoteAddr().String(), srv.listener.Addr())
		if tcpConn, ok := rw.(*net.TCPConn); ok {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				log.Warnf("rpc.Server: failed to enable keepalive on %s: %v", rw.RemoteAddr(), err)
			} else if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
				log.Warnf("rpc.Server: failed to set keepalive period on %s: %v", rw.RemoteAddr(), err)
			}
		}
		go srv.serveConn(ctx, rw)
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	decoder := cbor.NewDecoder(conn)
	defer func() {
		// log.Debugf("rpc.Server: serveConn for %s finished, closing connection.", conn.RemoteAddr())
		conn.Close()
	}()

	for {
		// Check context before attempting to read.
		select {
		case <-ctx.Done():
			log.Infof("rpc.Server: serveConn for %s stopping due to server context cancellation.", conn.RemoteAddr())
			return // Exit the goroutine if context is cancelled
		default:
			// Proceed with decoding
		}

		// Read the argument header
		req := &RequestHeader{}
		err := decoder.Decode(req)
		if err != nil {
			logMessage := fmt.Sprintf("rpc.Server: error decoding request header for %s: %v", conn.RemoteAddr(), err)
			if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "use of closed network connection") {
				log.Debugf("rpc.Server: connection %s closed (EOF or closed explicitly): %v", conn.RemoteAddr(), err)
			} else {
				log.Error(logMessage)
			}
			return
		}

		// Parse the header
		dot := strings.LastIndex(req.Method, ".")
		if dot < 0 {
			log.Errorf("rpc.Server: service/method request ill-formed: %q from %s", req.Method, conn.RemoteAddr())
			return
		}
		serviceName := req.Method[:dot]
		methodName := req.Method[dot+1:]

		// Look up the request.
		svci, ok := srv.serviceMap.Load(serviceName)
		if !ok {
			log.Errorf("rpc.Server: can't find service %q for method %q from %s", serviceName, req.Method, conn.RemoteAddr())
			return
		}
		svc := svci.(*service)
		mtype := svc.method[methodName]
		if mtype == nil {
			log.Errorf("rpc.Server: can't find method %q for service %q from %s", methodName, serviceName, conn.RemoteAddr())
			return
		}

		// Decode the argument value
		var argv reflect.Value
		if mtype.ArgType.Kind() == reflect.Pointer {
			argv = reflect.New(mtype.ArgType.Elem())
		} else {
			argv = reflect.New(mtype.ArgType)
		}

		err = decoder.Decode(argv.Interface())
		if err != nil {
			log.Errorf("rpc.Server: error decoding argument for %s.%s on connection %s: %v", serviceName, methodName, conn.RemoteAddr(), err)
			return
		}
		if mtype.ArgType.Kind() != reflect.Pointer {
			argv = argv.Elem()
		}

		repl := &ResponseHeader{Seq: req.Seq}
		replyv := reflect.New(mtype.ReplyType.Elem())

		// Call the service
		var callErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("rpc.Server: panic during RPC call %s.%s from %s: %v", serviceName, methodName, conn.RemoteAddr(), r)
					callErr = fmt.Errorf("rpc: internal server error during %s.%s", serviceName, methodName)
				}
			}()
			callErr = svc.call(mtype, argv, replyv)
		}()

		if callErr != nil {
			repl.Err = callErr.Error()
		}

		// Encode the Response Header
		encoder := cbor.NewEncoder(conn)
		err = encoder.Encode(repl)
		if err != nil {
			log.Errorf("rpc.Server: error encoding response header for %s.%s on connection %s: %v", serviceName, methodName, conn.RemoteAddr(), err)
			return
		}

		// Encode response body if call error was nil
		if callErr == nil {
			err = encoder.Encode(replyv.Interface())
			if err != nil {
				log.Errorf("rpc.Server: error encoding response body for %s.%s on connection %s: %v", serviceName, methodName, conn.RemoteAddr(), err)
				return
			}
		}
	}
}

func (svc *service) call(mtype *methodType, argv, replyv reflect.Value) error {
	mtype.Lock()
	mtype.numCalls++
	mtype.Unlock()
	function := mtype.method.Func
	// Invoke the method, providing a new value for the reply.
	returnValues := function.Call([]reflect.Value{svc.rcvr, argv, replyv})
	// The return value for the method is an error.
	errInter := returnValues[0].Interface()
	if errInter != nil {
		return errInter.(error)
	}
	return nil
}
