// Package subset picks a stable subset of N members for a given selection
// key via consistent hashing, grounded on the teacher's
// infra/transport/subset.Subset (whose backing `consistent` package was not
// retrieved by the pack — see internal/shard and DESIGN.md).
package subset

import "github.com/webitel/connector-manager/internal/shard"

// Subset returns up to num members of inss, chosen deterministically for
// selectKey via a consistent-hash ring. If inss already has num or fewer
// members, it is returned unchanged.
func Subset[M shard.Member](selectKey string, inss []M, num int) []M {
	if len(inss) <= num {
		return inss
	}

	c := shard.New[M]()
	c.NumberOfReplicas = 160
	c.UseFnv = true
	c.Set(inss)

	backends, err := c.GetN(selectKey, num)
	if err != nil {
		return inss
	}
	return backends
}
