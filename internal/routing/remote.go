package routing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/venue/internal/discovery"
	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	platformgrpc "github.com/louisbranch/venue/internal/platform/grpc"
	"github.com/louisbranch/venue/internal/platform/timeouts"
	"google.golang.org/protobuf/types/known/structpb"
)

// defaultResyncInterval is how often the backend re-lists the discovery
// table to repair any watch updates it missed.
const defaultResyncInterval = 30 * time.Second

// RemoteBackend advertises local services in a discovery table and forwards
// calls to services advertised by other processes over gRPC.
type RemoteBackend struct {
	table discovery.Table
	addr  string
	pool  *platformgrpc.Pool

	// ResyncInterval overrides defaultResyncInterval when positive.
	ResyncInterval time.Duration

	mu        sync.RWMutex
	peers     map[string]string
	published map[string]struct{}
}

// NewRemoteBackend creates a backend advertising this process at addr (the
// address of its Router gRPC server). pool dials peers; nil creates one with
// default options.
func NewRemoteBackend(table discovery.Table, addr string, pool *platformgrpc.Pool) *RemoteBackend {
	if pool == nil {
		pool = platformgrpc.NewPool(nil, timeouts.GRPCDial, nil)
	}
	return &RemoteBackend{
		table:     table,
		addr:      addr,
		pool:      pool,
		peers:     make(map[string]string),
		published: make(map[string]struct{}),
	}
}

// Addr returns the advertised address of this process.
func (b *RemoteBackend) Addr() string {
	return b.addr
}

// Start loads the current table and keeps the peer cache current until ctx
// ends. It returns once the initial snapshot is applied.
func (b *RemoteBackend) Start(ctx context.Context) error {
	updates, err := b.table.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch discovery: %w", err)
	}
	if err := b.resync(ctx); err != nil {
		return err
	}
	go b.follow(ctx, updates)
	return nil
}

func (b *RemoteBackend) follow(ctx context.Context, updates <-chan discovery.Record) {
	interval := b.ResyncInterval
	if interval <= 0 {
		interval = defaultResyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-updates:
			if ok {
				b.apply(rec)
				continue
			}
			updates = b.rewatch(ctx)
			if updates == nil {
				return
			}
		case <-ticker.C:
			if err := b.resync(ctx); err != nil {
				log.Printf("routing: discovery resync failed: %v", err)
			}
		}
	}
}

// rewatch re-subscribes after the watch stream broke, retrying until ctx
// ends.
func (b *RemoteBackend) rewatch(ctx context.Context) <-chan discovery.Record {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(timeouts.DiscoveryRetry):
		}
		updates, err := b.table.Watch(ctx)
		if err != nil {
			log.Printf("routing: discovery watch failed: %v", err)
			continue
		}
		if err := b.resync(ctx); err != nil {
			log.Printf("routing: discovery resync failed: %v", err)
		}
		return updates
	}
}

func (b *RemoteBackend) resync(ctx context.Context) error {
	records, err := b.table.List(ctx)
	if err != nil {
		return fmt.Errorf("list discovery: %w", err)
	}
	peers := make(map[string]string, len(records))
	for _, rec := range records {
		peers[rec.Service] = rec.Addr
	}
	b.mu.Lock()
	for service := range b.published {
		peers[service] = b.addr
	}
	b.peers = peers
	b.mu.Unlock()
	return nil
}

func (b *RemoteBackend) apply(rec discovery.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec.Removed {
		if b.peers[rec.Service] == rec.Addr {
			delete(b.peers, rec.Service)
		}
		return
	}
	b.peers[rec.Service] = rec.Addr
}

// Publish implements Backend. Ownership is decided by the table, which may
// evict an owner that no longer answers; the peer cache is only a hint.
func (b *RemoteBackend) Publish(ctx context.Context, service string) error {
	err := b.table.Publish(ctx, discovery.Record{Service: service, Addr: b.addr})
	if errors.Is(err, discovery.ErrConflict) {
		return alreadyRegistered(service)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFailed, fmt.Sprintf("publish %s", service), err)
	}

	b.mu.Lock()
	b.peers[service] = b.addr
	b.published[service] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Withdraw implements Backend.
func (b *RemoteBackend) Withdraw(ctx context.Context, service string) error {
	b.mu.Lock()
	delete(b.published, service)
	if b.peers[service] == b.addr {
		delete(b.peers, service)
	}
	b.mu.Unlock()
	if err := b.table.Remove(ctx, service, b.addr); err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFailed, fmt.Sprintf("withdraw %s", service), err)
	}
	return nil
}

// Lookup implements Backend. A service absent from the cache may simply not
// be discovered yet, which callers can retry.
func (b *RemoteBackend) Lookup(service string) (Route, error) {
	b.mu.RLock()
	addr, ok := b.peers[service]
	b.mu.RUnlock()
	if !ok {
		return Route{}, apperrors.WithMetadata(apperrors.CodeServiceNotDiscovered,
			fmt.Sprintf("service %s not discovered", service), map[string]string{"service": service})
	}
	if addr == b.addr {
		// Advertised by this process but not registered here: stale entry.
		return Route{}, serviceNotFound(service)
	}
	return Route{Kind: RouteRemote, Service: service, Addr: addr}, nil
}

// Invoke implements Backend.
func (b *RemoteBackend) Invoke(ctx context.Context, route Route, call Call) (any, error) {
	req, err := encodeCall(call)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEncodingFailed,
			fmt.Sprintf("encode call %s.%s", call.Target, call.Method), err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeouts.RPCCall)
		defer cancel()
	}

	conn, err := b.pool.Get(ctx, route.Addr)
	if err != nil {
		return nil, &apperrors.Error{
			Code:     apperrors.CodeTransportFailed,
			Message:  fmt.Sprintf("service %s unreachable", route.Service),
			Metadata: map[string]string{"service": route.Service, "addr": route.Addr},
			Cause:    err,
		}
	}
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, routerCallMethod, req, resp); err != nil {
		domainErr := apperrors.FromGRPCStatus(err)
		if domainErr.Code == apperrors.CodeTransportFailed {
			b.pool.Forget(route.Addr)
		}
		return nil, domainErr
	}
	return decodeResult(resp), nil
}

// Services implements Backend.
func (b *RemoteBackend) Services() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.peers))
	for name := range b.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close withdraws every service this process advertised and closes peer
// connections.
func (b *RemoteBackend) Close(ctx context.Context) error {
	b.mu.RLock()
	services := make([]string, 0, len(b.published))
	for service := range b.published {
		services = append(services, service)
	}
	b.mu.RUnlock()

	var errs []error
	for _, service := range services {
		if err := b.Withdraw(ctx, service); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
