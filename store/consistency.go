package store

import (
	"fmt"

	"distfs/columnstore"
)

// Policy picks the consistency level for a given operation and implements
// the one escalation rule the store applies on its own: an inode read
// first tries the cheap ONE level, and only pays for the configured
// (quorum-by-default) level if that first attempt finds nothing. Writes
// and every other read always use the configured level directly.
type Policy struct {
	read            columnstore.ConsistencyLevel
	write           columnstore.ConsistencyLevel
	networkTopology bool
}

// NewPolicy builds a Policy from the configured read/write level names
// ("ONE", "QUORUM", "LOCAL_QUORUM"). When networkTopology is true, a
// configured QUORUM is promoted to LOCAL_QUORUM: a topology-aware
// replication strategy only ever waits on the analytics datacenter.
func NewPolicy(readLevel, writeLevel string, networkTopology bool) (*Policy, error) {
	r, err := parseLevel(readLevel)
	if err != nil {
		return nil, fmt.Errorf("store: consistency.read: %w", err)
	}
	w, err := parseLevel(writeLevel)
	if err != nil {
		return nil, fmt.Errorf("store: consistency.write: %w", err)
	}

	if networkTopology {
		if r == columnstore.ConsistencyQuorum {
			r = columnstore.ConsistencyLocalQuorum
		}
		if w == columnstore.ConsistencyQuorum {
			w = columnstore.ConsistencyLocalQuorum
		}
	}

	return &Policy{read: r, write: w, networkTopology: networkTopology}, nil
}

func parseLevel(name string) (columnstore.ConsistencyLevel, error) {
	switch name {
	case "ONE":
		return columnstore.ConsistencyOne, nil
	case "QUORUM":
		return columnstore.ConsistencyQuorum, nil
	case "LOCAL_QUORUM":
		return columnstore.ConsistencyLocalQuorum, nil
	default:
		return 0, fmt.Errorf("unknown consistency level %q", name)
	}
}

// Write returns the configured write consistency level.
func (p *Policy) Write() columnstore.ConsistencyLevel {
	return p.write
}

// Read returns the configured read consistency level, used for every read
// except the inode lookup's first escalation attempt.
func (p *Policy) Read() columnstore.ConsistencyLevel {
	return p.read
}

// InodeReadEscalation returns the ordered sequence of consistency levels
// an inode lookup should try: ONE first, then the configured read level if
// ONE found nothing. When the configured level is already ONE, there is
// nothing to escalate to and the sequence has a single entry.
func (p *Policy) InodeReadEscalation() []columnstore.ConsistencyLevel {
	if p.read == columnstore.ConsistencyOne {
		return []columnstore.ConsistencyLevel{columnstore.ConsistencyOne}
	}
	return []columnstore.ConsistencyLevel{columnstore.ConsistencyOne, p.read}
}
