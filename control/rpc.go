package control

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/usnistgov/delila/errs"
)

// Service exposes a component's Commander over JSON-RPC, grounded on
// dastard's rpc_server.go: one net.Listener accepting connections, each
// served on its own goroutine via jsonrpc.NewServerCodec so requests on a
// single connection are handled synchronously and the Commander needs no
// lock of its own beyond what Watcher already provides.
type Service struct {
	name    string
	watcher *Watcher
	target  Commander
}

// NewService wraps target's Commander and watcher for RPC dispatch. name
// identifies the component in log output.
func NewService(name string, watcher *Watcher, target Commander) *Service {
	return &Service{name: name, watcher: watcher, target: target}
}

func (s *Service) respond(reply *Response, reqID uint32, err error) error {
	reply.RequestID = reqID
	reply.CurrentState = s.watcher.Snapshot().String()
	if err == nil {
		reply.Success = true
		reply.ErrorCode = ErrCodeNone
		return nil
	}
	reply.Success = false
	reply.Message = err.Error()
	switch {
	case errors.Is(err, errs.ErrStateTransition):
		reply.ErrorCode = ErrCodeIllegalState
	case errors.Is(err, errs.ErrNotPrerequisite):
		reply.ErrorCode = ErrCodeNotPrerequisite
	default:
		reply.ErrorCode = ErrCodeInternal
	}
	return nil
}

func (s *Service) Configure(args *ConfigureArgs, reply *Response) error {
	err := s.target.Configure(args.Run)
	if err == nil {
		err = s.watcher.SetState(Configured)
	}
	return s.respond(reply, args.RequestID, err)
}

func (s *Service) Arm(args *EmptyArgs, reply *Response) error {
	err := s.target.Arm()
	if err == nil {
		err = s.watcher.SetState(Armed)
	}
	return s.respond(reply, args.RequestID, err)
}

func (s *Service) Start(args *StartArgs, reply *Response) error {
	err := s.target.Start(args.RunNumber)
	if err == nil {
		err = s.watcher.SetState(Running)
	}
	return s.respond(reply, args.RequestID, err)
}

func (s *Service) Stop(args *EmptyArgs, reply *Response) error {
	err := s.target.Stop()
	if err == nil {
		err = s.watcher.SetState(Configured)
	}
	return s.respond(reply, args.RequestID, err)
}

func (s *Service) Reset(args *EmptyArgs, reply *Response) error {
	err := s.target.Reset()
	if err == nil {
		err = s.watcher.SetState(Idle)
	}
	return s.respond(reply, args.RequestID, err)
}

func (s *Service) GetStatus(args *EmptyArgs, reply *Response) error {
	m := s.target.Metrics()
	reply.Metrics = &m
	return s.respond(reply, args.RequestID, nil)
}

func (s *Service) Ping(args *EmptyArgs, reply *Response) error {
	return s.respond(reply, args.RequestID, nil)
}

// Serve listens on addr (e.g. ":5700") and serves JSON-RPC requests until
// the listener is closed. It blocks; callers run it in its own goroutine.
func (s *Service) Serve(addr string) error {
	server := rpc.NewServer()
	if err := server.RegisterName(s.name, s); err != nil {
		return fmt.Errorf("control: register %s: %w", s.name, err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go func() {
			codec := jsonrpc.NewServerCodec(conn)
			for {
				if err := server.ServeRequest(codec); err != nil {
					log.Printf("control: %s connection closed: %v", s.name, err)
					return
				}
			}
		}()
	}
}
