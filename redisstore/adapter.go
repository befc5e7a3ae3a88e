package redisstore

import "strings"

// isNoScript reports whether err is the server's NOSCRIPT reply.
// go-redis surfaces script errors as plain *RedisError values with no
// distinguishing type, so substring matching on the documented prefix
// is the only discriminant available.
func isNoScript(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOSCRIPT")
}
