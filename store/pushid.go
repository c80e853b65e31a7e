package store

import (
	"math/rand"
	"sync"
	"time"
)

const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// PushIDs generates 20 character keys: 8 characters of milliseconds followed
// by 12 random characters. Keys from one generator sort in creation order,
// also within the same millisecond.
type PushIDs struct {
	mu       sync.Mutex
	rng      *rand.Rand
	lastTime int64
	lastRand [12]int
}

// NewPushIDs uses rng for the random tail; nil seeds from the clock.
func NewPushIDs(rng *rand.Rand) *PushIDs {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PushIDs{rng: rng}
}

func (g *PushIDs) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms < g.lastTime {
		// clock went backwards; stay on the last timestamp to keep ordering
		ms = g.lastTime
	}
	if ms == g.lastTime {
		i := len(g.lastRand) - 1
		for ; i >= 0 && g.lastRand[i] == len(pushChars)-1; i-- {
			g.lastRand[i] = 0
		}
		if i >= 0 {
			g.lastRand[i]++
		} else {
			ms++
		}
	} else {
		for i := range g.lastRand {
			g.lastRand[i] = g.rng.Intn(len(pushChars))
		}
	}
	g.lastTime = ms

	var out [20]byte
	t := ms
	for i := 7; i >= 0; i-- {
		out[i] = pushChars[t%int64(len(pushChars))]
		t /= int64(len(pushChars))
	}
	for i, r := range g.lastRand {
		out[8+i] = pushChars[r]
	}
	return string(out[:])
}
