package ledger

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator mints record identifiers.
type IDGenerator interface {
	NewID(prefix string) string
}

// SnowflakeIDs generates time-ordered ids like "pay_1789012345678901234".
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given node number (0-1023).
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &SnowflakeIDs{node: n}, nil
}

func (g *SnowflakeIDs) NewID(prefix string) string {
	return prefix + "_" + g.node.Generate().String()
}

var (
	defaultIDsOnce sync.Once
	defaultIDs     *SnowflakeIDs
)

// DefaultIDs returns a process-wide generator on node 1.
func DefaultIDs() IDGenerator {
	defaultIDsOnce.Do(func() {
		defaultIDs, _ = NewSnowflakeIDs(1)
	})
	return defaultIDs
}
