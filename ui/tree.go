// Package ui renders the discovered suite tree and the partitioned units for
// terminal listing.
package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// Tree hierarchy symbols using box drawing characters
const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   " // Parent has more siblings
	TreeIndent     = "    " // Parent was last

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// BuildTreePrefix generates a tree prefix based on depth, position, and parent positions
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}
	var prefix strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			prefix.WriteString(TreeIndent)
		} else {
			prefix.WriteString(TreeContinue)
		}
	}
	if isLast {
		prefix.WriteString(TreeLastBranch)
	} else {
		prefix.WriteString(TreeBranch)
	}
	return prefix.String()
}

// WriteSuiteTree prints the suite tree, one node per line, with test counts on groups
func WriteSuiteTree(w io.Writer, root *types.SuiteNode) error {
	if root == nil {
		_, err := fmt.Fprintln(w, "(no tests)")
		return err
	}
	var b strings.Builder
	writeNode(&b, root, 0, true, nil)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeNode(b *strings.Builder, n *types.SuiteNode, depth int, isLast bool, parentIsLast []bool) {
	b.WriteString(BuildTreePrefix(depth, isLast, parentIsLast))
	if n.IsLeaf() {
		b.WriteString(n.Name)
		b.WriteString("\n")
		return
	}
	fmt.Fprintf(b, "%s [%s, %d tests]\n", n.Name, n.Level, n.CountTests())

	var childParents []bool
	if depth > 0 {
		childParents = append(append(childParents, parentIsLast...), isLast)
	}
	for i, child := range n.Children {
		writeNode(b, child, depth+1, i == len(n.Children)-1, childParents)
	}
}

// WriteUnits prints the partitioned units inside a box
func WriteUnits(w io.Writer, units []types.ExecutionUnit, g types.Granularity) error {
	title := fmt.Sprintf("%d execution units (%s)", len(units), g)
	lines := make([]string, 0, len(units))
	width := utf8.RuneCountInString(title) + 4
	for _, u := range units {
		line := fmt.Sprintf("%3d  %s (%d tests)", u.Index, u.ID, u.Node.CountTests())
		lines = append(lines, line)
		width = max(width, utf8.RuneCountInString(line)+4)
	}
	width = min(width, 120)

	var b strings.Builder
	b.WriteString(BuildBoxHeader(title, width))
	for _, line := range lines {
		b.WriteString(BuildBoxLine(line, width))
	}
	b.WriteString(BuildBoxFooter(width))
	_, err := io.WriteString(w, b.String())
	return err
}

// BuildBoxHeader creates a box header with the given title and width
func BuildBoxHeader(title string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	padding := width - 4 - titleLen

	header := BoxTopLeft + repeatString(BoxHorizontal, width-2) + BoxTopRight + "\n"
	header += BoxVertical + " " + title + repeatString(" ", padding+1) + BoxVertical + "\n"
	header += BoxTeeRight + repeatString(BoxHorizontal, width-2) + BoxTeeLeft + "\n"
	return header
}

// BuildBoxFooter creates a box footer with the given width
func BuildBoxFooter(width int) string {
	return BoxBottomLeft + repeatString(BoxHorizontal, width-2) + BoxBottomRight + "\n"
}

// BuildBoxLine creates a content line within a box, truncating by runes
func BuildBoxLine(content string, width int) string {
	contentLen := utf8.RuneCountInString(content)
	maxContentLen := width - 4
	if contentLen > maxContentLen {
		runes := []rune(content)
		content = string(runes[:maxContentLen-3]) + "..."
		contentLen = maxContentLen
	}
	padding := maxContentLen - contentLen
	return BoxVertical + " " + content + repeatString(" ", padding+1) + BoxVertical + "\n"
}

func repeatString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}
