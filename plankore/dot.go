package plankore

import (
	"fmt"
	"io"
	"strings"
)

func escDotID(id string) string {
	return strings.ReplaceAll(id, "\"", "\\\"")
}

// WriteDot writes the step graph of the last run in graphviz dot format. If
// the plan did not run yet, the graph is built from the roots. Follower edges
// are solid, edges from writers to readers of a category are dashed.
func (p *Plan) WriteDot(w io.Writer) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case error:
				err = p
			default:
				panic(p)
			}
		}
	}()
	akku := func(p int, err error) {
		n += p
		if err != nil {
			panic(err)
		}
	}
	p.mu.Lock()
	g := p.graph
	if g == nil {
		g = newGraph(p.roots)
	}
	p.mu.Unlock()

	akku(fmt.Fprintf(w, "digraph \"%s\" {\n\trankdir=\"LR\"\n", escDotID(p.Name)))
	for _, nd := range g.nodes {
		if !nd.active() {
			continue
		}
		var style string
		switch nd.state {
		case Failed:
			style = ",style=dashed"
		case Done:
			style = ",style=bold"
		}
		akku(fmt.Fprintf(w, "\t\"%d\" [shape=box%s,label=\"%s\"];\n",
			nd.seq,
			style,
			escDotID(string(nd.step.Key())),
		))
	}
	for _, nd := range g.nodes {
		if !nd.active() {
			continue
		}
		for _, f := range nd.followers {
			akku(fmt.Fprintf(w, "\t\"%d\" -> \"%d\";\n", nd.seq, f.seq))
		}
		for _, m := range g.nodes {
			if m == nd || !m.active() {
				continue
			}
			for _, c := range nd.writes {
				for _, rc := range m.reads {
					if c == rc {
						akku(fmt.Fprintf(w, "\t\"%d\" -> \"%d\" [style=dashed,label=\"%s\"];\n",
							nd.seq,
							m.seq,
							escDotID(string(c)),
						))
					}
				}
			}
		}
	}
	akku(fmt.Fprintln(w, "}"))
	return
}
