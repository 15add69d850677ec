package columnstore

import (
	"context"
	"fmt"

	"distfs/rpc"
)

// serviceName is the name under which Service is registered with
// rpc.Server, and the prefix every RPC method name carries on the wire.
const serviceName = "Service"

// Client is a thin, typed wrapper around rpc.Client binding every method of
// the column-store RPC surface to its request/reply pair.
type Client struct {
	rpc *rpc.Client
	// Addr is kept for diagnostics and so that callers can recognize a
	// connection already open to a given address (store.dialOrReuse).
	Addr string
}

// Dial connects to a column-store node at addr.
func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("columnstore: dial %s: %w", addr, err)
	}
	return &Client{rpc: c, Addr: addr}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// Call invokes one RPC method by its bare name (e.g. "Get", "BatchMutate").
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	return c.rpc.Call(ctx, serviceName+"."+method, args, reply)
}

func (c *Client) Get(ctx context.Context, args *GetArgs) (*GetReply, error) {
	reply := &GetReply{}
	if err := c.Call(ctx, "Get", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Insert(ctx context.Context, args *InsertArgs) error {
	return c.Call(ctx, "Insert", args, &InsertReply{})
}

func (c *Client) BatchMutate(ctx context.Context, args *BatchMutateArgs) error {
	return c.Call(ctx, "BatchMutate", args, &BatchMutateReply{})
}

func (c *Client) Remove(ctx context.Context, args *RemoveArgs) error {
	return c.Call(ctx, "Remove", args, &RemoveReply{})
}

func (c *Client) GetIndexedSlices(ctx context.Context, args *GetIndexedSlicesArgs) (*GetIndexedSlicesReply, error) {
	reply := &GetIndexedSlicesReply{}
	if err := c.Call(ctx, "GetIndexedSlices", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) GetSubBlock(ctx context.Context, args *GetSubBlockArgs) (*GetSubBlockReply, error) {
	reply := &GetSubBlockReply{}
	if err := c.Call(ctx, "GetSubBlock", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) DescribeKeys(ctx context.Context, args *DescribeKeysArgs) (*DescribeKeysReply, error) {
	reply := &DescribeKeysReply{}
	if err := c.Call(ctx, "DescribeKeys", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
