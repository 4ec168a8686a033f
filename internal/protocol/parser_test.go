package protocol

import "testing"

func encodeArray(args ...string) []byte {
	out := Array(mapBulk(args))
	return []byte(out)
}

func mapBulk(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Bulk(a)
	}
	return out
}

func TestParsesSimpleCommand(t *testing.T) {
	p := &Parser{}
	p.Feed(encodeArray("GET", "k1"))
	cmd, ok := p.NextCommand()
	if !ok {
		t.Fatalf("expected complete command")
	}
	if len(cmd) != 2 || cmd[0] != "GET" || cmd[1] != "k1" {
		t.Fatalf("unexpected command: %v", cmd)
	}
}

func TestIncompleteCommandWaitsForMoreData(t *testing.T) {
	p := &Parser{}
	full := encodeArray("SET", "k", "v")
	p.Feed(full[:len(full)-3])
	if _, ok := p.NextCommand(); ok {
		t.Fatalf("expected incomplete command to report not-ready")
	}
	p.Feed(full[len(full)-3:])
	cmd, ok := p.NextCommand()
	if !ok || cmd[0] != "SET" {
		t.Fatalf("expected complete SET after remaining bytes arrive, got %v ok=%v", cmd, ok)
	}
}

func TestNonArrayPrefixYieldsMalformed(t *testing.T) {
	p := &Parser{}
	p.Feed([]byte("garbage line\r\nnext"))
	cmd, ok := p.NextCommand()
	if !ok || len(cmd) != 1 || cmd[0] != Malformed {
		t.Fatalf("expected malformed sentinel, got %v ok=%v", cmd, ok)
	}
	// Only the first line was consumed; "next" has no CRLF yet, so the
	// parser waits for the rest of that line before reporting it.
	if cmd2, ok2 := p.NextCommand(); ok2 {
		t.Fatalf("expected partial second line to wait for more data, got %v", cmd2)
	}
	p.Feed([]byte("\r\n"))
	cmd3, ok3 := p.NextCommand()
	if !ok3 || cmd3[0] != Malformed {
		t.Fatalf("expected remaining line to also be malformed (no array prefix), got %v", cmd3)
	}
}

func TestArgcOverLimitIsMalformed(t *testing.T) {
	p := &Parser{}
	p.Feed([]byte("*2000\r\n"))
	cmd, ok := p.NextCommand()
	if !ok || cmd[0] != Malformed {
		t.Fatalf("expected malformed for argc over 1024, got %v ok=%v", cmd, ok)
	}
}

func TestBulkLenOverLimitNeedsMoreData(t *testing.T) {
	p := &Parser{}
	p.Feed([]byte("*1\r\n$9999999\r\n"))
	if _, ok := p.NextCommand(); ok {
		t.Fatalf("expected oversized bulk length to stall as incomplete, matching original behavior")
	}
}

func TestReplyBuilders(t *testing.T) {
	if Simple("OK") != "+OK\r\n" {
		t.Fatalf("bad simple reply")
	}
	if Error("bad") != "-ERR bad\r\n" {
		t.Fatalf("bad error reply")
	}
	if Integer(42) != ":42\r\n" {
		t.Fatalf("bad integer reply")
	}
	if Bulk("hi") != "$2\r\nhi\r\n" {
		t.Fatalf("bad bulk reply")
	}
	if Null() != "$-1\r\n" {
		t.Fatalf("bad null reply")
	}
}
