// Package risk throttles repeated rejected logins.
//
// A Controller counts failures per identifier inside a rolling window and
// reports an identifier as blocked once its count reaches the threshold.
// The window starts at the first failure: the counter's expiry is set only
// when it goes from absent to 1, so later failures never extend it.
//
// Two stores are provided:
//
//	RedisStore   shared across instances, one Lua script per failure
//	MemoryStore  single instance only, swept by a cron job
//
// Store errors never reach callers. They are logged and counted, and the
// controller answers according to its fail-open policy.
package risk
