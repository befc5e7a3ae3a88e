package ratelimit

import "testing"

func TestKeyNamer_DefaultPrefix(t *testing.T) {
	n := keyNamer{prefix: "ratelimit"}
	if got, want := n.key("ip:1.2.3.4", false), "ratelimit:ip:1.2.3.4"; got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}
}

func TestKeyNamer_EmptyPrefixElidesDelimiter(t *testing.T) {
	n := keyNamer{prefix: ""}
	if got, want := n.key("ip:1.2.3.4", false), "ip:1.2.3.4"; got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}
}

func TestKeyNamer_ClientPrefixModeLeavesIdentifiersUnprefixed(t *testing.T) {
	n := keyNamer{prefix: "ratelimit", clientPrefixMode: true}
	if got, want := n.key("ip:1.2.3.4", false), "ip:1.2.3.4"; got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}
}

func TestKeyNamer_ClientPrefixModeStillForcesSetNames(t *testing.T) {
	n := keyNamer{prefix: "ratelimit", clientPrefixMode: true}
	if got, want := n.key("whitelist", true), "ratelimit:whitelist"; got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}
}
