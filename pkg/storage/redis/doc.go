// Package redis implements core.Storage on Redis.
//
// Entries are hashes holding the value and versionstamp, expired by Redis
// itself through PEXPIREAT. A lexicographic sorted set indexes the packed
// keys so prefix scans run in key order. Commits use WATCH on every checked
// or summed key and apply their writes in one MULTI/EXEC block.
//
// The delayed channel is a sorted set scored by visibility time plus one
// hash per message. Claiming a message is a Lua script that pushes its score
// forward by the lease.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
package redis
