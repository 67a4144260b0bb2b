package classifier

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	ObjectiveSoftprob = "multi:softprob"
	ObjectiveSoftmax  = "multi:softmax"
	ObjectiveLogistic = "binary:logistic"
)

// treeNode is one node of a gradient-boosted tree in JSON dump form
type treeNode struct {
	NodeID         int         `json:"nodeid"`
	Split          string      `json:"split,omitempty"`
	SplitCondition float64     `json:"split_condition,omitempty"`
	Yes            int         `json:"yes,omitempty"`
	No             int         `json:"no,omitempty"`
	Missing        int         `json:"missing,omitempty"`
	Leaf           *float64    `json:"leaf,omitempty"`
	Children       []*treeNode `json:"children,omitempty"`
}

// modelFile is the on-disk model.json document
type modelFile struct {
	Objective string      `json:"objective"`
	NumClass  int         `json:"num_class"`
	BaseScore float64     `json:"base_score"`
	Trees     []*treeNode `json:"trees"`
}

type node struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	yes       int
	no        int
	missing   int
}

type tree struct {
	nodes []node // indexed by nodeid
	class int
}

// Model is a compiled tree ensemble. Read-only after compile; safe for concurrent use.
type Model struct {
	objective string
	numClass  int
	baseScore float64
	numCols   int
	trees     []tree
}

// compileModel resolves split names against the column list and flattens every tree.
// Tree i contributes to class i % num_class.
func compileModel(mf *modelFile, columns []string) (*Model, error) {
	if len(mf.Trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}
	objective := mf.Objective
	if objective == "" {
		objective = ObjectiveSoftprob
	}
	numClass := mf.NumClass
	switch objective {
	case ObjectiveLogistic:
		numClass = 1
	case ObjectiveSoftprob, ObjectiveSoftmax:
		if numClass < 2 {
			return nil, fmt.Errorf("objective %s requires num_class >= 2, got %d", objective, numClass)
		}
	default:
		return nil, fmt.Errorf("unsupported objective %q", objective)
	}

	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}

	m := &Model{
		objective: objective,
		numClass:  numClass,
		baseScore: mf.BaseScore,
		numCols:   len(columns),
		trees:     make([]tree, 0, len(mf.Trees)),
	}
	for i, root := range mf.Trees {
		t, err := compileTree(root, colIndex, len(columns))
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		t.class = i % numClass
		m.trees = append(m.trees, t)
	}
	return m, nil
}

func compileTree(root *treeNode, colIndex map[string]int, numCols int) (tree, error) {
	if root == nil {
		return tree{}, fmt.Errorf("empty tree")
	}
	flat := make(map[int]*treeNode)
	maxID := 0
	stack := []*treeNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			return tree{}, fmt.Errorf("nil child node")
		}
		if _, dup := flat[n.NodeID]; dup {
			return tree{}, fmt.Errorf("duplicate node id %d", n.NodeID)
		}
		if n.NodeID < 0 {
			return tree{}, fmt.Errorf("negative node id %d", n.NodeID)
		}
		flat[n.NodeID] = n
		if n.NodeID > maxID {
			maxID = n.NodeID
		}
		stack = append(stack, n.Children...)
	}

	t := tree{nodes: make([]node, maxID+1)}
	seen := make([]bool, maxID+1)
	for id, n := range flat {
		seen[id] = true
		if n.Leaf != nil {
			t.nodes[id] = node{leaf: true, value: *n.Leaf}
			continue
		}
		feat, err := resolveFeature(n.Split, colIndex, numCols)
		if err != nil {
			return tree{}, fmt.Errorf("node %d: %w", id, err)
		}
		missing := n.Missing
		if _, ok := flat[missing]; !ok || missing <= id {
			missing = n.Yes
		}
		t.nodes[id] = node{
			feature:   feat,
			threshold: n.SplitCondition,
			yes:       n.Yes,
			no:        n.No,
			missing:   missing,
		}
	}
	for id, n := range flat {
		if n.Leaf != nil {
			continue
		}
		for _, child := range []int{n.Yes, n.No, t.nodes[id].missing} {
			if child <= id || child > maxID || !seen[child] {
				return tree{}, fmt.Errorf("node %d points at invalid child %d", id, child)
			}
		}
	}
	if !seen[0] {
		return tree{}, fmt.Errorf("tree has no root node 0")
	}
	return t, nil
}

// resolveFeature accepts a column name or the positional "f<N>" form
func resolveFeature(split string, colIndex map[string]int, numCols int) (int, error) {
	if i, ok := colIndex[split]; ok {
		return i, nil
	}
	if strings.HasPrefix(split, "f") {
		if i, err := strconv.Atoi(split[1:]); err == nil && i >= 0 && i < numCols {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}

// score walks the tree; children always have larger ids so the walk terminates
func (t *tree) score(row []float64) float64 {
	id := 0
	for {
		n := &t.nodes[id]
		if n.leaf {
			return n.value
		}
		x := row[n.feature]
		switch {
		case math.IsNaN(x):
			id = n.missing
		case x < n.threshold:
			id = n.yes
		default:
			id = n.no
		}
	}
}

// Probabilities returns one probability per class for an aligned row
func (m *Model) Probabilities(row []float64) ([]float64, error) {
	if len(row) != m.numCols {
		return nil, fmt.Errorf("row has %d columns, model expects %d", len(row), m.numCols)
	}

	if m.objective == ObjectiveLogistic {
		margin := logit(m.baseScore)
		for i := range m.trees {
			margin += m.trees[i].score(row)
		}
		p := 1 / (1 + math.Exp(-margin))
		if math.IsNaN(p) {
			return nil, fmt.Errorf("non-finite probability")
		}
		return []float64{1 - p, p}, nil
	}

	margins := make([]float64, m.numClass)
	for c := range margins {
		margins[c] = m.baseScore
	}
	for i := range m.trees {
		margins[m.trees[i].class] += m.trees[i].score(row)
	}
	return softmax(margins)
}

// NumClasses is the length of the probability vector
func (m *Model) NumClasses() int {
	if m.objective == ObjectiveLogistic {
		return 2
	}
	return m.numClass
}

func softmax(margins []float64) ([]float64, error) {
	peak := math.Inf(-1)
	for _, v := range margins {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("non-finite margin")
		}
		if v > peak {
			peak = v
		}
	}
	out := make([]float64, len(margins))
	sum := 0.0
	for i, v := range margins {
		out[i] = math.Exp(v - peak)
		sum += out[i]
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("non-finite probability sum")
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

// logit converts a base probability into a margin; values outside (0,1) are taken as margins
func logit(p float64) float64 {
	if p <= 0 || p >= 1 {
		return p
	}
	return math.Log(p / (1 - p))
}
