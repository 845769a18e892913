package graph

import (
	"bytes"
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"
)

// jsonGraph is the on-disk representation of a topology file.
type jsonGraph struct {
	NProcs int      `json:"n_procs"`
	Edges  [][2]int `json:"edges"`
}

// FromFile parses a JSON topology file of the form
// {"n_procs": 4, "edges": [[0,1],[1,2],...]} and returns the corresponding
// graph.
func FromFile(path string) (*Graph, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var jg jsonGraph
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&jg); err != nil {
		return nil, errors.Wrapf(err, "parsing topology file %s", path)
	}

	g := New(jg.NProcs)
	for _, e := range jg.Edges {
		if e[0] < 0 || e[0] >= jg.NProcs || e[1] < 0 || e[1] >= jg.NProcs {
			return nil, errors.Errorf("edge (%d,%d) references a uid outside [0,%d)", e[0], e[1], jg.NProcs)
		}
		g.AddEdge(e[0], e[1])
	}

	return g, nil
}

// WriteFile persists the graph in the format understood by FromFile.
func (g *Graph) WriteFile(path string) error {
	jg := jsonGraph{NProcs: g.n}
	for i := 0; i < g.n; i++ {
		for _, j := range g.Neighbors(i) {
			if i < j {
				jg.Edges = append(jg.Edges, [2]int{i, j})
			}
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(jg); err != nil {
		return err
	}

	return ioutil.WriteFile(path, buf.Bytes(), 0644)
}
