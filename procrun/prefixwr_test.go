package procrun

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
)

func TestPrefixWriter_chunks(t *testing.T) {
	var buf bytes.Buffer
	pw := NewPrefixWriterString(&buf, "app| ")
	for _, chunk := range []string{"src/a.js:3: WARN", "ING - unused\n", "\n", "1 warning"} {
		if n, err := pw.Write([]byte(chunk)); err != nil || n != len(chunk) {
			t.Fatalf("write %q: %d, %v", chunk, n, err)
		}
	}
	const expect = "app| src/a.js:3: WARNING - unused\napp| \napp| 1 warning"
	if buf.String() != expect {
		t.Errorf("output:\n%s", buf.String())
	}
}

// diagnostics simulates compiler output of 5 to 20 lines per write.
func diagnostics() [][]byte {
	res := make([][]byte, 64)
	for i := range res {
		var sb strings.Builder
		for l := range 5 + rand.IntN(15) {
			fmt.Fprintf(&sb, "src/app/m%d.js:%d: WARNING - %s\n",
				i, l, strings.Repeat("x", 20+rand.IntN(140)))
		}
		res[i] = []byte(sb.String())
	}
	return res
}

func BenchmarkWrite(b *testing.B) {
	diags := diagnostics()
	var buf bytes.Buffer
	for i := range b.N {
		buf.Reset()
		buf.Write(diags[i%len(diags)])
	}
}

func BenchmarkPrefixWriter(b *testing.B) {
	diags := diagnostics()
	var buf bytes.Buffer
	pw := NewPrefixWriterString(&buf, "app| ")
	for i := range b.N {
		buf.Reset()
		pw.Reset()
		pw.Write(diags[i%len(diags)])
	}
}
