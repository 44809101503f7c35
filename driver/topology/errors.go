package topology

import (
	"fmt"

	"github.com/clusterdb/godriver/address"
)

func errWrongSetName(want, got string, addr address.Address) error {
	return fmt.Errorf("topology: server %s reports replica set name %q, expected %q", addr, got, want)
}

func errStalePrimary(addr address.Address) error {
	return fmt.Errorf("topology: server %s's primary announcement is stale (lower setVersion/electionId than a previously seen primary)", addr)
}
