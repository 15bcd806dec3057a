// Package hashroute provides the deterministic hash-sharding used to
// spread the subscriber directory across SQLite shard files.
package hashroute

import (
	"hash/fnv"
	"strings"
)

// DefaultShardCount is the default number of subscriber-directory shards.
const DefaultShardCount = 8

// CanonicalizeMSISDN trims surrounding whitespace. MSISDNs are
// case-sensitive printable strings, so case is preserved.
func CanonicalizeMSISDN(msisdn string) string {
	return strings.TrimSpace(msisdn)
}

// ShardForMSISDN deterministically maps an MSISDN to one of shardCount
// subscriber-directory shards.
func ShardForMSISDN(msisdn string, shardCount int) int {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(CanonicalizeMSISDN(msisdn)))
	return int(h.Sum64() % uint64(shardCount))
}
