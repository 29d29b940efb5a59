package wsfeed

import (
	"math/rand/v2"
	"time"
)

var jitter = func(n int64) int64 { return rand.Int64N(n) }

// backoff doubles from min to max; each wait is drawn from [cur/2, cur]
type backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.min
	} else {
		b.cur = min(2*b.cur, b.max)
	}
	half := b.cur / 2
	return half + time.Duration(jitter(int64(b.cur-half)+1))
}

func (b *backoff) reset() { b.cur = 0 }
