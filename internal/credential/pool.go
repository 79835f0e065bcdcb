// Package credential serializes access to a fixed pool of API credentials
// and enforces rate-limit cooldowns across concurrent pipeline runs.
package credential

import (
	"fmt"
	"sync"
	"time"
)

// Pool tracks each credential's membership in exactly one of three sets:
// available, in-use, or in-cooldown with an expiry. The union of the sets is
// always the full configured credential set. A single mutex/cond pair guards
// all three; no credential is ever visible to two acquirers at once.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	available []string
	inUse     map[string]bool
	cooldown  map[string]time.Time
}

// NewPool creates a pool over the given credentials. Duplicates are
// rejected: a credential present twice would break the partition invariant.
func NewPool(credentials []string) (*Pool, error) {
	seen := make(map[string]bool, len(credentials))
	for _, c := range credentials {
		if c == "" {
			return nil, fmt.Errorf("empty credential in pool")
		}
		if seen[c] {
			return nil, fmt.Errorf("duplicate credential in pool")
		}
		seen[c] = true
	}

	p := &Pool{
		available: append([]string(nil), credentials...),
		inUse:     make(map[string]bool),
		cooldown:  make(map[string]time.Time),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Size returns the total number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available) + len(p.inUse) + len(p.cooldown)
}

// Acquire blocks until a credential is available or the timeout elapses.
// Expired cooldowns are reclaimed before every availability check, and each
// wait is bounded by the soonest cooldown expiry so no waiter oversleeps
// past a credential becoming usable. Timeout exhaustion returns ("", false);
// that is a controlled outcome for the caller, not an error.
func (p *Pool) Acquire(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		p.reclaimExpired(time.Now())

		if n := len(p.available); n > 0 {
			cred := p.available[n-1]
			p.available = p.available[:n-1]
			p.inUse[cred] = true
			return cred, true
		}

		now := time.Now()
		if !now.Before(deadline) {
			return "", false
		}

		wait := deadline.Sub(now)
		if soonest, ok := p.soonestExpiry(); ok {
			if d := soonest.Sub(now); d < wait {
				wait = d
			}
		}
		if wait <= 0 {
			continue
		}

		// cond has no timed wait; a timer broadcast caps the sleep at
		// whichever comes first, the deadline or the next cooldown expiry.
		timer := time.AfterFunc(wait, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
	}
}

// Release returns a credential taken via Acquire. With rateLimited true and
// a positive backoff the credential enters cooldown until now+backoff;
// otherwise it becomes immediately available. A zero backoff with
// rateLimited true is equivalent to immediate availability. Waiters are
// always notified after the set transition.
func (p *Pool) Release(cred string, rateLimited bool, backoff time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inUse[cred] {
		return fmt.Errorf("credential not in use")
	}
	delete(p.inUse, cred)

	if rateLimited && backoff > 0 {
		p.cooldown[cred] = time.Now().Add(backoff)
	} else {
		p.available = append(p.available, cred)
	}

	p.cond.Broadcast()
	return nil
}

// reclaimExpired moves credentials whose cooldown has lapsed back to
// available. Caller holds p.mu.
func (p *Pool) reclaimExpired(now time.Time) {
	for cred, expiry := range p.cooldown {
		if !now.Before(expiry) {
			delete(p.cooldown, cred)
			p.available = append(p.available, cred)
		}
	}
}

// soonestExpiry returns the earliest cooldown expiry. Caller holds p.mu.
func (p *Pool) soonestExpiry() (time.Time, bool) {
	var soonest time.Time
	found := false
	for _, expiry := range p.cooldown {
		if !found || expiry.Before(soonest) {
			soonest = expiry
			found = true
		}
	}
	return soonest, found
}

// Snapshot returns copies of the three sets for inspection and tests.
func (p *Pool) Snapshot() (available []string, inUse []string, cooldown []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	available = append([]string(nil), p.available...)
	for c := range p.inUse {
		inUse = append(inUse, c)
	}
	for c := range p.cooldown {
		cooldown = append(cooldown, c)
	}
	return available, inUse, cooldown
}
