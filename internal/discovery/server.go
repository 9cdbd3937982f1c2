package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"

	platformgrpc "github.com/louisbranch/venue/internal/platform/grpc"
	"github.com/louisbranch/venue/internal/platform/timeouts"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Store persists the hub table so a restarted hub keeps serving the routes
// of processes that are still running.
type Store interface {
	PutRecord(ctx context.Context, rec Record) error
	DeleteRecord(ctx context.Context, service, addr string) error
	ListRecords(ctx context.Context) ([]Record, error)
}

// OwnerProbe checks whether the process at addr is still serving.
type OwnerProbe func(ctx context.Context, addr string) error

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithOwnerProbe replaces the health probe used before evicting a record.
func WithOwnerProbe(probe OwnerProbe) ServerOption {
	return func(s *Server) {
		s.probe = probe
	}
}

// Server is the discovery hub: it owns the authoritative table and fans
// changes out to every watching process.
type Server struct {
	table *Memory
	store Store
	probe OwnerProbe
}

// NewServer creates a hub and restores any records persisted in store.
// store may be nil for an ephemeral hub.
func NewServer(ctx context.Context, store Store, opts ...ServerOption) (*Server, error) {
	s := &Server{
		table: NewMemory(),
		store: store,
		probe: probeOwner,
	}
	for _, opt := range opts {
		opt(s)
	}
	if store == nil {
		return s, nil
	}
	records, err := store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore discovery table: %w", err)
	}
	for _, rec := range records {
		if err := s.table.Publish(ctx, rec); err != nil {
			log.Printf("discovery: skip restored record %s@%s: %v", rec.Service, rec.Addr, err)
		}
	}
	if len(records) > 0 {
		log.Printf("discovery: restored %d records", len(records))
	}
	return s, nil
}

// Register attaches the hub service to a gRPC server.
func (s *Server) Register(server *grpc.Server) {
	server.RegisterService(&hubServiceDesc, s)
}

// Publish implements the hub Publish method. When the name is owned by a
// process that no longer answers health checks, the stale record is evicted
// and the new publisher wins.
func (s *Server) Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec := decodeRecord(req)
	err := s.table.Publish(ctx, rec)
	if errors.Is(err, ErrConflict) && s.evictStale(ctx, rec.Service) {
		err = s.table.Publish(ctx, rec)
	}
	if err != nil {
		return nil, tableStatus(err)
	}
	if s.store != nil {
		if err := s.store.PutRecord(ctx, rec); err != nil {
			log.Printf("discovery: persist %s@%s: %v", rec.Service, rec.Addr, err)
		}
	}
	log.Printf("discovery: published %s at %s", rec.Service, rec.Addr)
	return &structpb.Struct{}, nil
}

// Remove implements the hub Remove method.
func (s *Server) Remove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec := decodeRecord(req)
	if err := rec.Validate(); err != nil {
		return nil, tableStatus(err)
	}
	s.remove(ctx, rec.Service, rec.Addr)
	return &structpb.Struct{}, nil
}

func (s *Server) remove(ctx context.Context, service, addr string) {
	if err := s.table.Remove(ctx, service, addr); err != nil {
		log.Printf("discovery: remove %s@%s: %v", service, addr, err)
		return
	}
	if s.store != nil {
		if err := s.store.DeleteRecord(ctx, service, addr); err != nil {
			log.Printf("discovery: unpersist %s@%s: %v", service, addr, err)
		}
	}
}

// List implements the hub List method.
func (s *Server) List(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	records, err := s.table.List(ctx)
	if err != nil {
		return nil, tableStatus(err)
	}
	return encodeRecords(records), nil
}

// Watch implements the hub Watch stream. The first message marks the
// subscription as live.
func (s *Server) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	if channel := req.GetFields()[fieldChannel].GetStringValue(); channel != "" && channel != Channel {
		return status.Errorf(codes.InvalidArgument, "unknown channel %q", channel)
	}
	updates, err := s.table.Watch(stream.Context())
	if err != nil {
		return tableStatus(err)
	}
	ready := &structpb.Struct{Fields: map[string]*structpb.Value{fieldReady: structpb.NewBoolValue(true)}}
	if err := stream.SendMsg(ready); err != nil {
		return err
	}
	for rec := range updates {
		if err := stream.SendMsg(encodeRecord(rec)); err != nil {
			return err
		}
	}
	if stream.Context().Err() == nil {
		return status.Error(codes.ResourceExhausted, "watcher fell behind")
	}
	return nil
}

func (s *Server) evictStale(ctx context.Context, service string) bool {
	owner, ok := s.table.Owner(service)
	if !ok {
		return true
	}
	err := s.probe(ctx, owner)
	if err == nil {
		return false
	}
	log.Printf("discovery: evicting %s from unreachable %s: %v", service, owner, err)
	s.remove(ctx, service, owner)
	return true
}

func probeOwner(ctx context.Context, addr string) error {
	conn, err := platformgrpc.DialWithHealth(ctx, nil, addr, timeouts.StaleProbe, nil, platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		return err
	}
	return conn.Close()
}
