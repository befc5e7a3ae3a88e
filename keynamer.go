package ratelimit

// keyNamer applies the configured prefix policy uniformly to
// identifier keys and to the whitelist/blacklist set names.
type keyNamer struct {
	prefix           string
	clientPrefixMode bool
}

// key returns the wire-level name for raw. When clientPrefixMode is
// enabled and force is false, raw is returned unchanged on the
// assumption the store client prepends the prefix transparently.
// Otherwise the configured prefix is prepended, eliding the delimiter
// entirely when the prefix is empty. force=true is used for names that
// must always be fully qualified regardless of client mode: the
// whitelist and blacklist set names.
func (n keyNamer) key(raw string, force bool) string {
	if n.clientPrefixMode && !force {
		return raw
	}
	if n.prefix == "" {
		return raw
	}
	return n.prefix + ":" + raw
}
