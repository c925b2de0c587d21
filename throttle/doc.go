// Package throttle caps how fast and how many jobs of one type a runner
// may execute.
//
// Use [Config] to set per-job rate limits and concurrency caps:
//
//	throttle.Config{
//	    JobName:        "upload-attachment",
//	    MaxConcurrency: 2,      // at most 2 uploads at once
//	    RateLimit:      5,      // at most 5 uploads started per second
//	    RateBurst:      10,     // allow bursts up to 10
//	}
//
// # Manager
//
// [Manager] enforces the limits when a worker has claimed an item and is
// about to run it. It uses a token-bucket rate limiter
// (golang.org/x/time/rate) and an active-count gate for concurrency.
//
//	m := throttle.NewManager(configs...)
//	if m.Acquire(jobName) {
//	    defer m.Release(jobName)
//	    // run the job
//	}
//
// A worker that fails to acquire hands the item back to the store with a
// short delay and without consuming a run attempt. Job types without a
// [Config] have no limits beyond the pool-wide concurrency.
package throttle
