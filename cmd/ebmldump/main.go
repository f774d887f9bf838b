// Command ebmldump prints the element tree of an EBML file, recursing
// into any payload that parses cleanly as a complete run of child
// elements. It carries no document schema (the library's core is
// schema-agnostic), so "is this a master element?" is answered by
// heuristic rather than by lookup.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-ebml/ebml"
)

func main() {
	maxDepth := flag.Int("max-depth", 8, "maximum nesting depth to recurse into")
	previewLen := flag.Int("preview", 16, "bytes of leaf payload to preview as hex")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Println("Usage: ebmldump [flags] <file>")
		flag.PrintDefaults()
		return
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("read file: %v", err)
	}

	fmt.Printf("%s: %d bytes\n", args[0], len(data))
	dumpElements(data, 0, 0, *maxDepth, *previewLen)
}

// dumpElements walks one level of the element tree rooted at b
// (assumed to begin at baseOffset in the original file) and recurses
// into any child whose payload looksLikeMaster, up to maxDepth.
func dumpElements(b []byte, baseOffset int64, depth, maxDepth, previewLen int) {
	indent := indentOf(depth)

	for elem, err := range ebml.ScanElements(b) {
		if err != nil {
			fmt.Printf("%s[scan error at relative offset %d: %v]\n", indent, elem.Offset, err)
			return
		}

		fmt.Printf("%s0x%s  size=%d  offset=%d\n", indent, hexBytes(elem.Tag), len(elem.Payload), baseOffset+int64(elem.Offset))

		if depth < maxDepth && looksLikeMaster(elem.Payload) {
			payloadOffset := baseOffset + int64(elem.Offset) + int64(len(elem.Tag)+elem.SizeVintWidth)
			dumpElements(elem.Payload, payloadOffset, depth+1, maxDepth, previewLen)
			continue
		}

		n := len(elem.Payload)
		truncated := n > previewLen
		if truncated {
			n = previewLen
		}
		if n > 0 {
			fmt.Printf("%s  %s\n", indent, hexPreview(elem.Payload[:n], truncated))
		}
	}
}

// looksLikeMaster reports whether payload parses, start to end, as
// one or more complete child elements with nothing left over. A Void
// filler's zero-padded payload fails at the very first byte (no
// marker bit), so this heuristic does not misfire on filler space.
func looksLikeMaster(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	count := 0
	for _, err := range ebml.ScanElements(payload) {
		if err != nil {
			return false
		}
		count++
	}
	return count > 0
}

func indentOf(depth int) string {
	out := make([]byte, depth*2)
	for i := range out {
		out[i] = ' '
	}
	return string(out)
}

func hexBytes(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 2*len(b))
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xF])
	}
	return string(out)
}

func hexPreview(b []byte, truncated bool) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 3*len(b)+4)
	for i, c := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexdigits[c>>4], hexdigits[c&0xF])
	}
	if truncated {
		out = append(out, " ..."...)
	}
	return string(out)
}
