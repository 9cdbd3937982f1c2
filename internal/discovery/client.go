package discovery

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a Table backed by a remote discovery hub.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a connection to the hub.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Publish implements Table.
func (c *Client) Publish(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	err := c.conn.Invoke(ctx, publishMethod, encodeRecord(rec), new(structpb.Struct))
	return statusError("publish", err)
}

// Remove implements Table.
func (c *Client) Remove(ctx context.Context, service, addr string) error {
	err := c.conn.Invoke(ctx, removeMethod, encodeRecord(Record{Service: service, Addr: addr}), new(structpb.Struct))
	return statusError("remove", err)
}

// List implements Table.
func (c *Client) List(ctx context.Context) ([]Record, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, listMethod, &structpb.Struct{}, resp); err != nil {
		return nil, statusError("list", err)
	}
	return decodeRecords(resp), nil
}

// Watch implements Table. It returns once the hub confirmed the
// subscription, so no change published afterwards is missed.
func (c *Client) Watch(ctx context.Context) (<-chan Record, error) {
	stream, err := c.conn.NewStream(ctx, &hubServiceDesc.Streams[0], watchMethod)
	if err != nil {
		return nil, statusError("watch", err)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{fieldChannel: structpb.NewStringValue(Channel)}}
	if err := stream.SendMsg(req); err != nil {
		return nil, statusError("watch", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, statusError("watch", err)
	}
	first := new(structpb.Struct)
	if err := stream.RecvMsg(first); err != nil {
		return nil, statusError("watch", err)
	}
	if !first.GetFields()[fieldReady].GetBoolValue() {
		return nil, fmt.Errorf("discovery watch: missing ready marker")
	}

	updates := make(chan Record, watchBuffer)
	go func() {
		defer close(updates)
		for {
			msg := new(structpb.Struct)
			if err := stream.RecvMsg(msg); err != nil {
				return
			}
			select {
			case updates <- decodeRecord(msg):
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, nil
}
