package report

import "strings"

// widthEpsilon absorbs float error when a width is compared to a measured string
const widthEpsilon = 1e-6

// tableGrid is a table fitted to a printable width: one width per column and
// the wrapped lines of every cell.
type tableGrid struct {
	Widths []float64
	Lines  [][][]string
}

// Width returns the total table width
func (g tableGrid) Width() float64 {
	total := 0.0
	for _, w := range g.Widths {
		total += w
	}
	return total
}

// LineCount returns the number of text lines of the tallest cell in row
func (g tableGrid) LineCount(row int) int {
	n := 1
	for _, cell := range g.Lines[row] {
		if len(cell) > n {
			n = len(cell)
		}
	}
	return n
}

// fitTable sizes columns to their content. When the table is wider than
// usable only the widest columns give up space, and never below their
// minimum: the full header (first row) text or the longest single word of
// the column. A word counts toward the minimum up to an equal share of
// usable; longer words are broken. Cells that no longer fit are wrapped.
func fitTable(rows [][]string, measure func(string) float64, usable, padding float64) tableGrid {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return tableGrid{Lines: make([][][]string, len(rows))}
	}
	wordCap := usable/float64(cols) - 2*padding

	natural := make([]float64, cols)
	minimum := make([]float64, cols)
	for r, row := range rows {
		for i, cell := range row {
			if w := measure(cell) + 2*padding; w > natural[i] {
				natural[i] = w
			}
			floor := min(longestWord(cell, measure), wordCap)
			if r == 0 {
				floor = measure(cell)
			}
			if w := floor + 2*padding; w > minimum[i] {
				minimum[i] = w
			}
		}
	}
	for i := range natural {
		if natural[i] < 2*padding {
			natural[i] = 2 * padding
		}
		if minimum[i] < 2*padding {
			minimum[i] = 2 * padding
		}
	}

	widths := shrinkColumns(natural, minimum, usable)

	lines := make([][][]string, len(rows))
	for r, row := range rows {
		lines[r] = make([][]string, cols)
		for i := 0; i < cols; i++ {
			if i < len(row) {
				lines[r][i] = wrapText(row[i], widths[i]-2*padding, measure)
			}
		}
	}
	return tableGrid{Widths: widths, Lines: lines}
}

// shrinkColumns caps the widest columns at a common width so the total fits
// usable. Columns are kept at their minimum unless the minimums alone do not
// fit, in which case the minimums are scaled down.
func shrinkColumns(natural, minimum []float64, usable float64) []float64 {
	widths := make([]float64, len(natural))
	if sum(natural) <= usable {
		copy(widths, natural)
		return widths
	}
	if total := sum(minimum); total >= usable {
		for i := range minimum {
			widths[i] = minimum[i] * usable / total
		}
		return widths
	}

	capped := func(limit float64) []float64 {
		out := make([]float64, len(natural))
		for i := range natural {
			out[i] = max(minimum[i], min(natural[i], limit))
		}
		return out
	}

	lo, hi := 0.0, 0.0
	for _, w := range natural {
		hi = max(hi, w)
	}
	for i := 0; i < 64; i++ {
		mid := (lo + hi) / 2
		if sum(capped(mid)) <= usable {
			lo = mid
		} else {
			hi = mid
		}
	}
	return capped(lo)
}

// wrapText breaks text into lines no wider than avail. Words wider than a
// whole line are broken between characters.
func wrapText(text string, avail float64, measure func(string) float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	line := ""
	for _, word := range words {
		if measure(word) > avail+widthEpsilon {
			if line != "" {
				lines = append(lines, line)
			}
			pieces := breakWord(word, avail, measure)
			lines = append(lines, pieces[:len(pieces)-1]...)
			line = pieces[len(pieces)-1]
			continue
		}
		if line == "" {
			line = word
			continue
		}
		if candidate := line + " " + word; measure(candidate) <= avail+widthEpsilon {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = word
	}
	return append(lines, line)
}

// breakWord splits word into pieces no wider than avail. A single character
// wider than avail gets a piece of its own.
func breakWord(word string, avail float64, measure func(string) float64) []string {
	var pieces []string
	piece := ""
	for _, r := range word {
		if piece != "" && measure(piece+string(r)) > avail+widthEpsilon {
			pieces = append(pieces, piece)
			piece = ""
		}
		piece += string(r)
	}
	return append(pieces, piece)
}

func longestWord(text string, measure func(string) float64) float64 {
	longest := 0.0
	for _, word := range strings.Fields(text) {
		longest = max(longest, measure(word))
	}
	return longest
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
