package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type EchoArgs struct {
	Text string
}

type EchoReply struct {
	Text string
}

type EchoService struct{}

func (e *EchoService) Echo(args *EchoArgs, reply *EchoReply) error {
	reply.Text = args.Text
	return nil
}

func TestClientServerRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(listener)
	require.NoError(t, srv.Register(&EchoService{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	client, err := Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	reply := &EchoReply{}
	err = client.Call(ctx, "EchoService.Echo", &EchoArgs{Text: "hello"}, reply)
	require.NoError(t, err)
	require.Equal(t, "hello", reply.Text)
}

func TestClientCallUnknownMethod(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(listener)
	require.NoError(t, srv.Register(&EchoService{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	client, err := Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	reply := &EchoReply{}
	err = client.Call(ctx, "EchoService.DoesNotExist", &EchoArgs{Text: "hello"}, reply)
	require.Error(t, err)
}
