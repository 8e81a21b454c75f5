package redisclient

import "testing"

func TestParseUsedMemory(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\n"
	if got := parseUsedMemory(info); got != 1048576 {
		t.Fatalf("parseUsedMemory() = %d, want 1048576", got)
	}
}

func TestParseUsedMemoryMissing(t *testing.T) {
	if got := parseUsedMemory("# Memory\r\nmaxmemory:0\r\n"); got != 0 {
		t.Fatalf("parseUsedMemory() = %d, want 0", got)
	}
}

func TestIndexOf(t *testing.T) {
	if got := indexOf("hello world", "world"); got != 6 {
		t.Fatalf("indexOf() = %d, want 6", got)
	}
	if got := indexOf("hello", "xyz"); got != -1 {
		t.Fatalf("indexOf() = %d, want -1", got)
	}
}

func TestEntryKeyAndPrefixPattern(t *testing.T) {
	c := New(Config{Addr: "localhost:6379", KeyPrefix: "onto"})
	defer c.Close()

	k1 := c.entryKey("CO_X", "entity")
	k2 := c.entryKey("CO_X", "aliases")
	if k1 == k2 {
		t.Fatalf("distinct view shapes must produce distinct keys")
	}
	if got, want := c.prefixPattern("CO_X"), "onto:CO_X:*"; got != want {
		t.Fatalf("prefixPattern() = %q, want %q", got, want)
	}
}
