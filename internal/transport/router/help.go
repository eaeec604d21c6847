package router

import (
	"slices"
	"strings"
)

// helpText renders Discord markdown help for the node at path.
func (m *CommandManager) helpText(prefix string, path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(prefix, root)
	}
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok2 := alias[strings.ToLower(p)]; ok2 && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "Unknown command. Try `" + prefix + "help`."
		}
		cur = n
		full = append(full, n.name)
	}
	return helpNode(prefix, cur, full)
}

func helpTop(prefix string, root *routeNode) string {
	type row struct {
		name, desc string
		lock       bool
	}
	rows := make([]row, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: summarizeNodeDesc(n), lock: nodeRestricted(n)})
	}
	slices.SortStableFunc(rows, func(a, b row) int {
		if a.lock != b.lock {
			if !a.lock {
				return -1
			}
			return 1
		}
		return strings.Compare(a.name, b.name)
	})

	lines := []string{"**Commands**", "Type `" + prefix + "help <command>` for details.", ""}
	for _, r := range rows {
		line := "`" + prefix + r.name + "`"
		if r.lock {
			line += " (restricted)"
		}
		if r.desc != "" {
			line += ": " + r.desc
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpNode(prefix string, cur *routeNode, full []string) string {
	lines := []string{"**" + prefix + strings.Join(full, " ") + "**"}
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, d)
		}
		switch c.Access {
		case AccessGuild:
			lines = append(lines, "_Server only._")
		case AccessGuildAdmin:
			lines = append(lines, "_Requires Manage Server._")
		case AccessOwnerOnly:
			lines = append(lines, "_Bot owner only._")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "Usage: `"+prefix+u+"`")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: "+strings.Join(c.Aliases, ", "))
		}
	}
	if len(cur.children) > 0 {
		lines = append(lines, "", "**Subcommands**")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := "`" + prefix + strings.Join(append(slices.Clone(full), name), " ") + "`"
			if d := summarizeNodeDesc(n); d != "" {
				line += ": " + d
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func summarizeNodeDesc(n *routeNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	k := min(3, len(kids))
	s := strings.Join(kids[:k], ", ")
	if len(kids) > k {
		s += ", ..."
	}
	return "subcommands: " + s
}

// nodeRestricted reports whether no command under n is open to everyone.
func nodeRestricted(n *routeNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil && n.cmd.Access != AccessOwnerOnly && n.cmd.Access != AccessGuildAdmin {
		return false
	}
	for _, ch := range n.children {
		if !nodeRestricted(ch) {
			return false
		}
	}
	return n.cmd != nil || len(n.children) > 0
}
