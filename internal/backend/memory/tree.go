package memory

import (
	"bytes"
	"encoding/json"
)

type node struct {
	value    json.RawMessage
	children map[string]*node
	order    []string
}

func newNode() *node {
	return &node{}
}

func newLeaf(value json.RawMessage) *node {
	return &node{value: value}
}

func (n *node) isEmpty() bool {
	return n.value == nil && len(n.order) == 0
}

func (n *node) isLeaf() bool {
	return n.value != nil
}

func (n *node) child(key string) *node {
	if n.children == nil {
		return nil
	}
	return n.children[key]
}

func (n *node) addChild(key string, c *node) {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	if _, ok := n.children[key]; !ok {
		n.order = append(n.order, key)
	}
	n.value = nil
	n.children[key] = c
}

func (n *node) removeChild(key string) {
	if _, ok := n.children[key]; !ok {
		return
	}
	delete(n.children, key)
	for i, k := range n.order {
		if k == key {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

func (n *node) keys() []string {
	keys := make([]string, len(n.order))
	copy(keys, n.order)
	return keys
}

// marshal renders the subtree, keeping insertion order for objects.
func (n *node) marshal() json.RawMessage {
	if n.isLeaf() {
		return n.value
	}
	if len(n.order) == 0 {
		return json.RawMessage("null")
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range n.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		quoted, _ := json.Marshal(key)
		buf.Write(quoted)
		buf.WriteByte(':')
		buf.Write(n.children[key].marshal())
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// walk visits every leaf below n in insertion order.
func (n *node) walk(prefix []string, visit func(path []string, value json.RawMessage)) {
	if n.isLeaf() {
		visit(prefix, n.value)
		return
	}
	for _, key := range n.order {
		childPath := append(append([]string(nil), prefix...), key)
		n.children[key].walk(childPath, visit)
	}
}
