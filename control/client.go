package control

import (
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/usnistgov/delila/record"
)

// Client dials one component's command endpoint and issues typed RPCs
// against it, mirroring the method set of Service.
type Client struct {
	name string
	rpc  *rpc.Client
}

// Dial connects to a component's Service at addr. name must match the
// name the Service was registered under (NewService's first argument).
func Dial(name, addr string) (*Client, error) {
	conn, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{name: name, rpc: conn}, nil
}

func (c *Client) Close() error { return c.rpc.Close() }

func (c *Client) call(method string, args, reply any) error {
	return c.rpc.Call(c.name+"."+method, args, reply)
}

func (c *Client) Configure(requestID uint32, run record.RunConfig) (Response, error) {
	var reply Response
	err := c.call("Configure", &ConfigureArgs{RequestID: requestID, Run: run}, &reply)
	return reply, err
}

func (c *Client) Arm(requestID uint32) (Response, error) {
	var reply Response
	err := c.call("Arm", &EmptyArgs{RequestID: requestID}, &reply)
	return reply, err
}

func (c *Client) Start(requestID uint32, runNumber int) (Response, error) {
	var reply Response
	err := c.call("Start", &StartArgs{RequestID: requestID, RunNumber: runNumber}, &reply)
	return reply, err
}

func (c *Client) Stop(requestID uint32) (Response, error) {
	var reply Response
	err := c.call("Stop", &EmptyArgs{RequestID: requestID}, &reply)
	return reply, err
}

func (c *Client) Reset(requestID uint32) (Response, error) {
	var reply Response
	err := c.call("Reset", &EmptyArgs{RequestID: requestID}, &reply)
	return reply, err
}

func (c *Client) GetStatus(requestID uint32) (Response, error) {
	var reply Response
	err := c.call("GetStatus", &EmptyArgs{RequestID: requestID}, &reply)
	return reply, err
}

func (c *Client) Ping(requestID uint32) (Response, error) {
	var reply Response
	err := c.call("Ping", &EmptyArgs{RequestID: requestID}, &reply)
	return reply, err
}
