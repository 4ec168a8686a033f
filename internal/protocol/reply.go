package protocol

import "strconv"

func Simple(s string) string { return "+" + s + "\r\n" }
func Error(s string) string  { return "-ERR " + s + "\r\n" }
func Integer(v int64) string { return ":" + strconv.FormatInt(v, 10) + "\r\n" }
func Bulk(s string) string   { return "$" + strconv.Itoa(len(s)) + "\r\n" + s + "\r\n" }
func Null() string           { return "$-1\r\n" }

func Array(items []string) string {
	out := "*" + strconv.Itoa(len(items)) + "\r\n"
	for _, it := range items {
		out += it
	}
	return out
}
