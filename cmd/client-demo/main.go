// File: cmd/client-demo/main.go
package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"
)

// encodeCommand frames args as the wire protocol's RESP-like array of
// bulk strings: *n\r\n($len\r\narg\r\n)*n.
func encodeCommand(args ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	return []byte(b.String())
}

// readReply reads one reply of any type (+, -, :, $, *) off r.
func readReply(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return "", fmt.Errorf("empty reply line")
	}

	switch line[0] {
	case '+', '-', ':':
		return line, nil
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", err
		}
		if n < 0 {
			return "$-1", nil
		}
		buf := make([]byte, n+2)
		if _, err := readFull(r, buf); err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	case '*':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", err
		}
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			v, err := readReply(r)
			if err != nil {
				return "", err
			}
			parts[i] = v
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("unknown reply prefix %q", line[0:1])
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func main() {
	conn, err := net.Dial("tcp", "localhost:7600")
	if err != nil {
		log.Fatal("Failed to connect to server:", err)
	}
	defer conn.Close()
	fmt.Println("Connected to Pomai Cache Sidecar")

	reader := bufio.NewReader(conn)

	start := time.Now()
	count := 100000
	fmt.Printf("Sending %d SET requests...\n", count)

	for i := 0; i < count; i++ {
		key := fmt.Sprintf("user:%d", i)
		if _, err := conn.Write(encodeCommand("SET", key, "pomai-is-super-fast")); err != nil {
			log.Fatal(err)
		}
		reply, err := readReply(reader)
		if err != nil {
			log.Fatal(err)
		}
		if reply != "+OK" {
			log.Fatalf("server error: %s", reply)
		}
	}

	duration := time.Since(start)
	fmt.Printf("Completed %d requests in %v\n", count, duration)
	fmt.Printf("Speed: %.0f requests/second\n", float64(count)/duration.Seconds())

	if _, err := conn.Write(encodeCommand("GET", "user:100")); err != nil {
		log.Fatal(err)
	}
	reply, err := readReply(reader)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("GET user:100 => %s\n", reply)
}
