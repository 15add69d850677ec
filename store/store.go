// Package store implements the store layer of the distributed filesystem
// façade: translating inode and block operations into reads, writes, and
// secondary-index queries against a replicated column store, with
// compression, locality-aware block access, and consistency-level
// escalation along the way.
package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"

	"distfs/codec"
	"distfs/columnstore"
	"distfs/config"
)

// version is returned by GetVersion; it identifies the wire/schema
// revision this store implementation produces, not a software release.
const version = "distfs-store/1"

// Store is a single logical session against the column store: one RPC
// connection used for data operations, the consistency policy derived from
// configuration, and the per-instance compression context guarding the
// reusable buffer pair described in the concurrency model.
type Store struct {
	client   *columnstore.Client
	seeds    []*columnstore.Client
	pool     columnstore.Pool
	keyspace string
	hostname string

	policy   *Policy
	compress *codec.CompressionContext
	inflight singleflight.Group

	localBlockHost string
}

// New returns an uninitialized Store. Callers must call Initialize before
// issuing any other operation.
func New() *Store {
	return &Store{compress: codec.NewCompressionContext()}
}

// NewDirect builds a Store around an already-dialed column-store client,
// skipping Initialize's URI parsing and cluster-file/schema-agreement
// bootstrap. It's meant for embedding scenarios where the caller already
// owns connection setup and schema management: a single-node test harness,
// or a process that shares one client across multiple stores.
func NewDirect(client *columnstore.Client, pool columnstore.Pool, hostname, readLevel, writeLevel string) (*Store, error) {
	policy, err := NewPolicy(readLevel, writeLevel, false)
	if err != nil {
		return nil, fmt.Errorf("store: NewDirect: %w", err)
	}
	return &Store{
		client:         client,
		pool:           pool,
		policy:         policy,
		compress:       codec.NewCompressionContext(),
		hostname:       hostname,
		localBlockHost: hostname,
	}, nil
}

// GetVersion returns the store implementation's version string.
func (s *Store) GetVersion() string {
	return version
}

// Initialize parses uri to select the storage pool and target node, dials
// the cluster's seeds, ensures the keyspace exists and has been agreed on
// across the cluster, and readies the store for use.
func (s *Store) Initialize(ctx context.Context, uri string, cfg *config.Config) error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("store: determining local hostname: %w", err)
	}
	s.hostname = hostname
	s.localBlockHost = hostname

	pool, host, port, err := parseURI(uri)
	if err != nil {
		return fmt.Errorf("store: initialize: %w", err)
	}
	s.pool = pool

	if host == "" || host == "null" {
		host = s.hostname
	}
	if port == -1 {
		port = cfg.RPC.Port
	}

	cluster, err := config.LoadClusterConfig(cfg.ClusterFile)
	if err != nil {
		return fmt.Errorf("store: initialize: %w", err)
	}
	s.keyspace = cluster.Keyspace

	s.seeds = make([]*columnstore.Client, 0, len(cluster.Seeds))
	for _, seed := range cluster.Seeds {
		addr := fmt.Sprintf("%s:%d", seed.Host, seed.Port)
		c, err := columnstore.Dial(addr)
		if err != nil {
			return fmt.Errorf("store: initialize: dialing seed %s: %w", addr, err)
		}
		s.seeds = append(s.seeds, c)
	}

	targetAddr := fmt.Sprintf("%s:%d", host, port)
	s.client, err = s.dialOrReuse(targetAddr)
	if err != nil {
		return fmt.Errorf("store: initialize: %w", err)
	}

	s.policy, err = NewPolicy(cfg.Consistency.Read, cfg.Consistency.Write, true)
	if err != nil {
		return fmt.Errorf("store: initialize: %w", err)
	}

	ks := columnstore.DefaultKeyspace(cluster.Keyspace, cfg.Replication.Factor, cluster.ReplicationOptions(cfg.Replication.Factor))
	mgr := columnstore.NewSchemaManager(s.seeds)
	if err := mgr.EnsureKeyspace(ctx, ks); err != nil {
		return fmt.Errorf("store: initialize: schema: %w", err)
	}

	go func() {
		if err := mgr.Watch(ctx, 30*time.Second); err != nil && ctx.Err() == nil {
			log.Warnf("store: schema agreement watcher stopped: %v", err)
		}
	}()

	log.Infof("store: initialized against keyspace %q, pool %s, %d seed(s)", s.keyspace, s.pool, len(s.seeds))
	return nil
}

// dialOrReuse avoids opening a second connection to a node already present
// in the seed list.
func (s *Store) dialOrReuse(addr string) (*columnstore.Client, error) {
	for _, seed := range s.seeds {
		if seed.Addr == addr {
			return seed, nil
		}
	}
	return columnstore.Dial(addr)
}

// Close releases every connection the store holds.
func (s *Store) Close() error {
	var firstErr error
	closed := make(map[*columnstore.Client]bool)
	clients := append([]*columnstore.Client{s.client}, s.seeds...)
	for _, c := range clients {
		if c == nil || closed[c] {
			continue
		}
		closed[c] = true
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// parseURI splits a "cfs://host:port/" or "cfs-archive://host:port/" URI
// into a pool selection and a host/port pair. An empty host, the host
// "null", and a port of -1 are all valid and resolved by the caller
// against local/configured defaults.
func parseURI(raw string) (columnstore.Pool, string, int, error) {
	const sep = "://"
	i := strings.Index(raw, sep)
	if i < 0 {
		return 0, "", 0, fmt.Errorf("malformed URI %q", raw)
	}
	scheme := raw[:i]

	var pool columnstore.Pool
	switch scheme {
	case "cfs":
		pool = columnstore.PoolRegular
	case "cfs-archive":
		pool = columnstore.PoolArchive
	default:
		return 0, "", 0, fmt.Errorf("unknown URI scheme %q", scheme)
	}

	rest := strings.TrimSuffix(raw[i+len(sep):], "/")
	host := rest
	port := -1
	if j := strings.LastIndex(rest, ":"); j >= 0 {
		host = rest[:j]
		if p, err := strconv.Atoi(rest[j+1:]); err == nil {
			port = p
		}
	}
	return pool, host, port, nil
}
