package router

import (
	"slices"
	"strings"
)

// routeNode is one word of a command path. Subcommands hang off their
// parent, so "autostats stop all" lives three levels below the root.
type routeNode struct {
	name     string
	cmd      *Command
	children map[string]*routeNode
}

func newRoot() *routeNode {
	return &routeNode{children: map[string]*routeNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(route))
}

func (n *routeNode) add(route []string, c Command) {
	cur := n
	for _, word := range route {
		next := cur.children[word]
		if next == nil {
			next = &routeNode{name: word, children: map[string]*routeNode{}}
			cur.children[word] = next
		}
		cur = next
	}
	cur.cmd = &c
}

func (n *routeNode) find(route []string) *routeNode {
	cur := n
	for _, word := range route {
		if cur = cur.children[word]; cur == nil {
			return nil
		}
	}
	return cur
}

func (n *routeNode) child(name string) (*routeNode, bool) {
	c, ok := n.children[strings.ToLower(name)]
	return c, ok
}

// walk descends as far as the leading args name subcommands. It stops at
// the first flag so "stats --mode x" never treats x as a route word.
func (n *routeNode) walk(args []string) (leaf *routeNode, path, rest []string) {
	leaf, rest = n, args
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "--") {
		next, ok := leaf.child(rest[0])
		if !ok {
			break
		}
		leaf = next
		path = append(path, next.name)
		rest = rest[1:]
	}
	return leaf, path, rest
}

func (n *routeNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
