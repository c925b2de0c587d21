// Package redis implements work.Store on Redis. Work items are stored as
// Hashes, due items wait in a Sorted Set scored by run time, and each group
// is a List holding its non-terminal items in submission order.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
// Claim and cancel run as Lua scripts that touch keys derived from the work
// ID, so the store expects a single Redis node rather than a cluster.
package redis
