// Package cache provides the CacheCoordinator middleware: a cache-aside
// layer that sits in front of a pipeline handler, memoizing results keyed
// by a caller-supplied KeyGenerator and encoded/decoded through a
// caller-supplied Codec.
//
// Basic usage:
//
//	coord := cache.New[MyCommand, MyResult](store, cache.Config[MyCommand, MyResult]{
//		TTL:          5 * time.Minute,
//		KeyGenerator: func(cmd MyCommand) string { return cmd.Key() },
//		Codec:        jsonCodec{},
//	})
//	mw := cache.NewMiddleware(coord, chain.PriorityPreProcessing)
//
// A cached entry that fails to decode is a soft miss: the decode error is
// logged and treated as a miss rather than propagated, so a corrupted or
// incompatible cache entry never fails the invocation. Enabling
// SingleFlight collapses concurrent misses on the same key into one
// computation shared by every waiter.
package cache
