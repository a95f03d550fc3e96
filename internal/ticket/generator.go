// internal/ticket/generator.go
package ticket

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/rag2504/tambola/internal/models"
)

// bands are the inclusive number ranges for each column.
var bands = [models.TicketColumns][2]int{
	{1, 9}, {10, 19}, {20, 29}, {30, 39}, {40, 49},
	{50, 59}, {60, 69}, {70, 79}, {80, 90},
}

// Generator produces valid tickets. It is safe for concurrent use.
type Generator struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New builds a Generator over the given source.
func New(src rand.Source) *Generator {
	return &Generator{r: rand.New(src)}
}

// NewDefault builds a time-seeded Generator.
func NewDefault() *Generator {
	return New(rand.NewSource(time.Now().UnixNano()))
}

// Generate builds ticket number n. Every row has exactly five numbers, every column
// between zero and three, and numbers grow down each column. Identity and ownership are
// left to the caller.
func (g *Generator) Generate(n int) *models.Ticket {
	grid := g.layout()
	return &models.Ticket{
		Number:  n,
		Grid:    grid,
		Numbers: grid.Numbers(),
		Marked:  []int{},
	}
}

func (g *Generator) layout() models.Grid {
	g.mu.Lock()
	defer g.mu.Unlock()

	// shuffled values per column; we draw from the front
	colValues := make([][]int, models.TicketColumns)
	for c, b := range bands {
		vals := make([]int, 0, b[1]-b[0]+1)
		for v := b[0]; v <= b[1]; v++ {
			vals = append(vals, v)
		}
		g.r.Shuffle(len(vals), func(i, j int) { vals[i], vals[j] = vals[j], vals[i] })
		colValues[c] = vals
	}

	counts := g.columnCounts()

	// filled[r][c] marks cell occupancy
	var filled [models.TicketRows][models.TicketColumns]bool
	for c, n := range counts {
		rows := g.r.Perm(models.TicketRows)[:n]
		for _, r := range rows {
			filled[r][c] = true
		}
	}

	g.repair(&filled)

	var grid models.Grid
	for c := 0; c < models.TicketColumns; c++ {
		idx := 0
		picked := make([]int, 0, models.TicketRows)
		for r := 0; r < models.TicketRows; r++ {
			if filled[r][c] {
				picked = append(picked, colValues[c][idx])
				idx++
			}
		}
		slices.Sort(picked)
		i := 0
		for r := 0; r < models.TicketRows; r++ {
			if filled[r][c] {
				grid[r][c] = picked[i]
				i++
			}
		}
	}
	return grid
}

// columnCounts picks a fill count in [0,3] per column summing to 15, left to right,
// keeping the remaining columns able to absorb the rest.
func (g *Generator) columnCounts() [models.TicketColumns]int {
	var counts [models.TicketColumns]int
	remaining := models.NumbersPerTicket
	for c := 0; c < models.TicketColumns; c++ {
		left := models.TicketColumns - 1 - c
		if left == 0 {
			counts[c] = remaining
			break
		}
		lo := max(0, remaining-left*models.TicketRows)
		hi := min(models.TicketRows, remaining)
		n := lo + g.r.Intn(hi-lo+1)
		counts[c] = n
		remaining -= n
	}
	return counts
}

// repair brings every row to exactly five cells while keeping the total at fifteen.
// Rows above five shed cells into rows below five within the same column where possible;
// otherwise the cell moves to a column with spare capacity.
func (g *Generator) repair(filled *[models.TicketRows][models.TicketColumns]bool) {
	rowCount := func(r int) int {
		n := 0
		for c := 0; c < models.TicketColumns; c++ {
			if filled[r][c] {
				n++
			}
		}
		return n
	}
	colCount := func(c int) int {
		n := 0
		for r := 0; r < models.TicketRows; r++ {
			if filled[r][c] {
				n++
			}
		}
		return n
	}

	for {
		over, under := -1, -1
		for r := 0; r < models.TicketRows; r++ {
			n := rowCount(r)
			if n > models.NumbersPerRow && over < 0 {
				over = r
			}
			if n < models.NumbersPerRow && under < 0 {
				under = r
			}
		}
		if over < 0 && under < 0 {
			return
		}

		switch {
		case over >= 0 && under >= 0:
			// prefer moving a cell straight down/up its column
			var same []int
			for c := 0; c < models.TicketColumns; c++ {
				if filled[over][c] && !filled[under][c] {
					same = append(same, c)
				}
			}
			if len(same) > 0 {
				c := same[g.r.Intn(len(same))]
				filled[over][c] = false
				filled[under][c] = true
				continue
			}
			// every column of the over row is already filled in the under row; drop one
			// from the over row in a column with other cells, add one to under elsewhere
			if !g.dropOne(filled, over, colCount) || !g.addOne(filled, under, colCount) {
				return
			}
		case under >= 0:
			if !g.addOne(filled, under, colCount) {
				return
			}
		default:
			if !g.dropOne(filled, over, colCount) {
				return
			}
		}
	}
}

func (g *Generator) addOne(filled *[models.TicketRows][models.TicketColumns]bool, r int, colCount func(int) int) bool {
	var cand []int
	for c := 0; c < models.TicketColumns; c++ {
		if !filled[r][c] && colCount(c) < models.TicketRows {
			cand = append(cand, c)
		}
	}
	if len(cand) == 0 {
		return false
	}
	filled[r][cand[g.r.Intn(len(cand))]] = true
	return true
}

// dropOne removes a cell from row r, preferring the fullest columns so that the
// column least needed elsewhere gives it up.
func (g *Generator) dropOne(filled *[models.TicketRows][models.TicketColumns]bool, r int, colCount func(int) int) bool {
	best := -1
	var cand []int
	for c := 0; c < models.TicketColumns; c++ {
		if !filled[r][c] {
			continue
		}
		n := colCount(c)
		switch {
		case n > best:
			best = n
			cand = []int{c}
		case n == best:
			cand = append(cand, c)
		}
	}
	if len(cand) == 0 {
		return false
	}
	filled[r][cand[g.r.Intn(len(cand))]] = false
	return true
}

// Validate checks the structural invariants of a grid.
func Validate(g models.Grid) error {
	total := 0
	for r := 0; r < models.TicketRows; r++ {
		n := len(g.Row(r))
		if n != models.NumbersPerRow {
			return fmt.Errorf("row %d has %d numbers, want %d", r, n, models.NumbersPerRow)
		}
		total += n
	}
	seen := make(map[int]bool, models.NumbersPerTicket)
	for c := 0; c < models.TicketColumns; c++ {
		prev := 0
		for r := 0; r < models.TicketRows; r++ {
			v := g[r][c]
			if v == 0 {
				continue
			}
			if v < bands[c][0] || v > bands[c][1] {
				return fmt.Errorf("cell (%d,%d)=%d outside column band %d-%d", r, c, v, bands[c][0], bands[c][1])
			}
			if v <= prev {
				return fmt.Errorf("column %d not increasing at row %d", c, r)
			}
			if seen[v] {
				return fmt.Errorf("number %d repeated", v)
			}
			seen[v] = true
			prev = v
		}
	}
	if total != models.NumbersPerTicket {
		return fmt.Errorf("ticket has %d numbers, want %d", total, models.NumbersPerTicket)
	}
	return nil
}
