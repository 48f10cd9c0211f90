package toolbridge

import (
	"sort"
	"strings"
)

// Edit is one text replacement within a file.
type Edit struct {
	OldText    string
	NewText    string
	ReplaceAll bool
}

// lineTable maps byte offsets to 1-indexed line numbers. Offsets are
// the starting byte of each line; \n, \r and \r\n all end a line.
type lineTable []int

func newLineTable(content string) lineTable {
	starts := lineTable{0}
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\n':
			starts = append(starts, i+1)
		case '\r':
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineAt returns the 1-indexed line containing the byte offset.
func (t lineTable) lineAt(offset int) int {
	// First line start strictly greater than offset; the line is the
	// one before it.
	idx := sort.Search(len(t), func(i int) bool { return t[i] > offset })
	return idx
}

// splice is a pending replacement located on the original content.
type splice struct {
	offset  int
	length  int
	newText string
}

// applyEdits rewrites content with a batch of edits and reports the
// sorted, de-duplicated 1-indexed line numbers the batch touched.
//
// All occurrence offsets are located against the original content, then
// applied in descending offset order so earlier offsets stay valid. An
// edit whose OldText does not occur is skipped without error.
func applyEdits(content string, edits []Edit) (string, []int) {
	table := newLineTable(content)

	var splices []splice
	for _, e := range edits {
		if e.OldText == "" {
			continue
		}
		from := 0
		for {
			i := strings.Index(content[from:], e.OldText)
			if i < 0 {
				break
			}
			offset := from + i
			splices = append(splices, splice{offset: offset, length: len(e.OldText), newText: e.NewText})
			if !e.ReplaceAll {
				break
			}
			from = offset + len(e.OldText)
		}
	}
	if len(splices) == 0 {
		return content, nil
	}

	sort.Slice(splices, func(i, j int) bool { return splices[i].offset > splices[j].offset })

	lineSet := make(map[int]struct{}, len(splices))
	out := content
	for _, s := range splices {
		out = out[:s.offset] + s.newText + out[s.offset+s.length:]
		lineSet[table.lineAt(s.offset)] = struct{}{}
	}

	lines := make([]int, 0, len(lineSet))
	for n := range lineSet {
		lines = append(lines, n)
	}
	sort.Ints(lines)
	return out, lines
}
