package game

import "sort"

// Result describes a finished game. Winner is nil on a draw.
type Result struct {
	IsDraw      bool     `json:"isDraw"`
	Winner      *Player  `json:"winner,omitempty"`
	FinalScores []Player `json:"finalScores"`
}

// ComputeResult picks the unique top scorer, or a draw when two or more
// players share the top score. FinalScores is sorted by score, highest first.
func ComputeResult(players []Player) Result {
	final := append([]Player(nil), players...)
	sort.SliceStable(final, func(i, j int) bool { return final[i].Score > final[j].Score })

	r := Result{FinalScores: final}
	if len(final) == 0 {
		return r
	}
	top := 0
	for _, p := range final {
		if p.Score == final[0].Score {
			top++
		}
	}
	if top > 1 {
		r.IsDraw = true
		return r
	}
	w := final[0]
	r.Winner = &w
	return r
}

// WinnerIndex returns the winner's turn index, or -1 for a draw.
func (r Result) WinnerIndex() int {
	if r.Winner == nil {
		return -1
	}
	return r.Winner.Index
}

func (r Result) clone() Result {
	c := Result{IsDraw: r.IsDraw, FinalScores: append([]Player(nil), r.FinalScores...)}
	if r.Winner != nil {
		w := *r.Winner
		c.Winner = &w
	}
	return c
}
