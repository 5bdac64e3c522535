package script

// fibonacciOffsets are the spaced-repetition review offsets: a LEGO
// debuted in round M is due for review in round N whenever (N - M) is one
// of these values.
var fibonacciOffsets = []int{1, 2, 3, 5, 8, 13, 21, 34, 55, 89}

var fibonacciSet = func() map[int]struct{} {
	m := make(map[int]struct{}, len(fibonacciOffsets))
	for _, o := range fibonacciOffsets {
		m[o] = struct{}{}
	}
	return m
}()

// isFibonacciOffset reports whether offset is one of the recognised
// spaced-repetition review offsets.
func isFibonacciOffset(offset int) bool {
	_, ok := fibonacciSet[offset]
	return ok
}

// dueLego is one candidate for spaced-repetition review in the round
// currently being built.
type dueLego struct {
	LegoID string
	Offset int
}

// dueLegosForRound returns every previously-debuted LEGO whose
// (roundNumber - lastRound) is a Fibonacci offset, ordered by ascending
// offset (earliest review first), with ties broken by LastRound order.
func dueLegosForRound(roundNumber int, lastRoundByLego map[string]int, order []string) []dueLego {
	var due []dueLego
	for _, legoID := range order {
		lastRound, ok := lastRoundByLego[legoID]
		if !ok {
			continue
		}
		offset := roundNumber - lastRound
		if offset <= 0 {
			continue
		}
		if isFibonacciOffset(offset) {
			due = append(due, dueLego{LegoID: legoID, Offset: offset})
		}
	}
	sortDue(due, lastRoundByLego)
	return due
}

// sortDue orders due legos by ascending offset, breaking ties by the
// earliest debut round.
func sortDue(due []dueLego, lastRoundByLego map[string]int) {
	for i := 1; i < len(due); i++ {
		for j := i; j > 0; j-- {
			a, b := due[j-1], due[j]
			if a.Offset < b.Offset {
				break
			}
			if a.Offset == b.Offset && lastRoundByLego[a.LegoID] <= lastRoundByLego[b.LegoID] {
				break
			}
			due[j-1], due[j] = due[j], due[j-1]
		}
	}
}
