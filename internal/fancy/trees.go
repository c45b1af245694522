package fancy

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
)

// Tree returns a new tree with the rounded enumerator and branch styling.
func Tree() *tree.Tree {
	t := tree.New()
	t.EnumeratorStyle(BranchStyle)
	t.Enumerator(tree.RoundedEnumerator)
	return t
}

// BranchNode creates a section header node with a muted annotation.
func BranchNode(title string, note string) *tree.Tree {
	root := HeaderStyle.Render(title)
	if note != "" {
		root = lipgloss.JoinHorizontal(lipgloss.Top, root, " ", InfoStyle.Render(note))
	}
	return tree.New().Root(root)
}

// TruncateString shortens s to maxLength, ending it with "..." when cut.
func TruncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return "..."[:max(maxLength, 0)]
	}
	return s[:maxLength-3] + "..."
}
