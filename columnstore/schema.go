package columnstore

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"distfs/helper/timer"
)

// maxDestaggerSleep bounds the random pre-create delay EnsureKeyspace waits
// before creating a keyspace it found absent, so that co-starting nodes
// racing to bootstrap the same fresh cluster don't all issue the same
// create_keyspace call at once.
const maxDestaggerSleep = 5 * time.Second

// ColumnFamilyDef describes one column family: its name, and which of its
// columns carry a secondary index (queryable via GetIndexedSlices).
type ColumnFamilyDef struct {
	Name            string
	IndexedColumns  []string
	CompactionEnabled bool
}

// KeyspaceDef describes the keyspace this store creates on first contact
// with a fresh cluster: its replication strategy and the column families
// that belong to it.
type KeyspaceDef struct {
	Name                string
	ReplicationStrategy string // e.g. "NetworkTopologyStrategy"
	ReplicationOptions  map[string]string
	DurableWrites       bool
	ColumnFamilies      []ColumnFamilyDef
}

// DefaultKeyspace returns the keyspace definition this store creates: both
// the regular and archive inode/sblocks column family quadruples, with
// path/parent_path/sentinel indexed on the inode families. DurableWrites is
// set iff replicationFactor > 1: with a single replica there is nothing to
// recover a commit-log-less write from, so durability only matters once a
// write has somewhere else to be replicated to.
func DefaultKeyspace(name string, replicationFactor int, replicationOptions map[string]string) KeyspaceDef {
	inodeIndexed := []string{ColumnPath, ColumnParentPath, ColumnSentinel}
	return KeyspaceDef{
		Name:                name,
		ReplicationStrategy: "NetworkTopologyStrategy",
		ReplicationOptions:  replicationOptions,
		DurableWrites:       replicationFactor > 1,
		ColumnFamilies: []ColumnFamilyDef{
			{Name: PoolRegular.InodeColumnFamily(), IndexedColumns: inodeIndexed, CompactionEnabled: true},
			{Name: PoolRegular.SubBlockColumnFamily(), CompactionEnabled: true},
			{Name: PoolArchive.InodeColumnFamily(), IndexedColumns: inodeIndexed, CompactionEnabled: false},
			{Name: PoolArchive.SubBlockColumnFamily(), CompactionEnabled: false},
		},
	}
}

// SchemaManager creates the keyspace on a fresh cluster and waits for every
// seed to agree on the resulting schema version before returning control to
// callers. Cluster membership is the static seed list from configuration;
// there is no gossip-driven discovery here, just direct polling of each
// seed's own view of the schema.
type SchemaManager struct {
	Seeds          []*Client
	PollInterval   time.Duration
	AgreementTries int
}

// NewSchemaManager returns a manager polling every 250ms, up to 40 times
// (10s total) before giving up on agreement.
func NewSchemaManager(seeds []*Client) *SchemaManager {
	return &SchemaManager{
		Seeds:          seeds,
		PollInterval:   250 * time.Millisecond,
		AgreementTries: 40,
	}
}

// EnsureKeyspace creates ks through the first seed if that seed doesn't
// already report it, then blocks until every seed reports agreement.
func (m *SchemaManager) EnsureKeyspace(ctx context.Context, ks KeyspaceDef) error {
	if len(m.Seeds) == 0 {
		return fmt.Errorf("columnstore: schema manager has no seeds configured")
	}

	primary := m.Seeds[0]
	var existing DescribeKeyspaceReply
	if err := primary.Call(ctx, "DescribeKeyspace", &DescribeKeyspaceArgs{Name: ks.Name}, &existing); err != nil {
		return fmt.Errorf("columnstore: describe_keyspace failed: %w", err)
	}

	if !existing.Found {
		// Destagger: sleep a small random interval before re-checking, so
		// that co-starting nodes racing to bootstrap the same fresh
		// cluster don't all issue create_keyspace at once.
		sleep := time.Duration(rand.Int63n(int64(maxDestaggerSleep)))
		log.Debugf("columnstore: keyspace %q not found, destaggering %v before re-check", ks.Name, sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		if err := primary.Call(ctx, "DescribeKeyspace", &DescribeKeyspaceArgs{Name: ks.Name}, &existing); err != nil {
			return fmt.Errorf("columnstore: describe_keyspace re-check failed: %w", err)
		}
	}

	if !existing.Found {
		log.Infof("columnstore: keyspace %q still absent after destagger, creating", ks.Name)
		if err := primary.Call(ctx, "CreateKeyspace", &CreateKeyspaceArgs{Keyspace: &ks}, &CreateKeyspaceReply{}); err != nil {
			return fmt.Errorf("columnstore: create_keyspace failed: %w", err)
		}
	}

	return m.waitForAgreement(ctx)
}

// waitForAgreement polls every seed concurrently, sleeping PollInterval
// between rounds, until all seeds agree or AgreementTries is exhausted.
func (m *SchemaManager) waitForAgreement(ctx context.Context) error {
	for attempt := 0; attempt < m.AgreementTries; attempt++ {
		g, gctx := errgroup.WithContext(ctx)
		agreed := make([]bool, len(m.Seeds))
		for i, seed := range m.Seeds {
			i, seed := i, seed
			g.Go(func() error {
				var reply WaitForSchemaAgreementReply
				if err := seed.Call(gctx, "WaitForSchemaAgreement", &WaitForSchemaAgreementArgs{}, &reply); err != nil {
					return err
				}
				agreed[i] = reply.Agreed
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("columnstore: schema agreement poll failed: %w", err)
		}

		all := true
		for _, ok := range agreed {
			if !ok {
				all = false
				break
			}
		}
		if all {
			log.Infof("columnstore: schema agreement reached across %d seeds after %d attempt(s)", len(m.Seeds), attempt+1)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.PollInterval):
		}
	}
	return fmt.Errorf("columnstore: schema agreement not reached after %d attempts", m.AgreementTries)
}

// Watch periodically re-polls every seed's view of schema agreement for the
// lifetime of ctx, logging a warning whenever a seed falls out of
// agreement (e.g. after a schema change made directly against one node).
// It never returns except when ctx is cancelled or a seed call fails hard.
func (m *SchemaManager) Watch(ctx context.Context, interval time.Duration) error {
	return timer.RunWithTicker(ctx, &timer.Interval{Duration: interval, Jitter: interval / 10}, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		disagreements := make([]bool, len(m.Seeds))
		for i, seed := range m.Seeds {
			i, seed := i, seed
			g.Go(func() error {
				var reply WaitForSchemaAgreementReply
				if err := seed.Call(gctx, "WaitForSchemaAgreement", &WaitForSchemaAgreementArgs{}, &reply); err != nil {
					return err
				}
				disagreements[i] = !reply.Agreed
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i, disagrees := range disagreements {
			if disagrees {
				log.Warnf("columnstore: seed %d is out of schema agreement", i)
			}
		}
		return nil
	})
}
