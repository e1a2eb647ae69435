// Package queue holds the advisory in-memory registry of prompt rounds
// waiting for copy submissions. It is an optimization, not a correctness
// mechanism: a missing entry self-heals through a database scan, so the
// whole structure can be dropped (process restart) without violating any
// matching invariant.
package queue

import (
	"sync"
	"time"
)

type waitingPrompt struct {
	RoundID       uint
	OwnerID       uint
	EnqueuedAt    time.Time
	FilledSlots   int
	PendingCopies int
}

type PromptQueue struct {
	mu                sync.Mutex
	waiting           map[uint]*waitingPrompt
	cooldowns         map[uint]map[uint]time.Time
	recentCopies      []time.Time
	discountThreshold float64
	recentWindow      time.Duration
	cooldownTTL       time.Duration
}

func New(discountThreshold float64, recentWindow, cooldownTTL time.Duration) *PromptQueue {
	return &PromptQueue{
		waiting:           make(map[uint]*waitingPrompt),
		cooldowns:         make(map[uint]map[uint]time.Time),
		discountThreshold: discountThreshold,
		recentWindow:      recentWindow,
		cooldownTTL:       cooldownTTL,
	}
}

// Enqueue registers a submitted prompt round as waiting for copies.
// filledSlots carries the current slot occupancy so self-healed entries
// resume from database truth.
func (q *PromptQueue) Enqueue(roundID, ownerID uint, filledSlots int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if filledSlots >= 2 {
		delete(q.waiting, roundID)
		return
	}
	if existing, ok := q.waiting[roundID]; ok {
		if filledSlots > existing.FilledSlots {
			existing.FilledSlots = filledSlots
		}
		return
	}
	q.waiting[roundID] = &waitingPrompt{
		RoundID:     roundID,
		OwnerID:     ownerID,
		EnqueuedAt:  time.Now().UTC(),
		FilledSlots: filledSlots,
	}
}

// Acquire hands the oldest waiting prompt to a copier, skipping the
// copier's own prompts and prompts under reclaim cooldown for them. The
// entry's pending count is bumped so two copiers are not sent to the last
// open slot at once.
func (q *PromptQueue) Acquire(playerID uint) (uint, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()

	var best *waitingPrompt
	for _, entry := range q.waiting {
		if entry.OwnerID == playerID {
			continue
		}
		if entry.FilledSlots+entry.PendingCopies >= 2 {
			continue
		}
		if until, ok := q.cooldowns[playerID][entry.RoundID]; ok && now.Before(until) {
			continue
		}
		if best == nil || entry.EnqueuedAt.Before(best.EnqueuedAt) {
			best = entry
		}
	}
	if best == nil {
		return 0, false
	}
	best.PendingCopies++
	q.recentCopies = append(q.recentCopies, now)
	return best.RoundID, true
}

// NoteCopyStarted records a copy start that bypassed Acquire (database
// fallback), keeping the discount ratio honest.
func (q *PromptQueue) NoteCopyStarted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recentCopies = append(q.recentCopies, time.Now().UTC())
}

// MarkPending bumps the pending-copy count for a prompt acquired through
// the database fallback rather than Acquire.
func (q *PromptQueue) MarkPending(roundID uint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.waiting[roundID]; ok {
		entry.PendingCopies++
	}
}

// Release returns a prompt slot reservation after a copy round is
// abandoned or expires. withCooldown starts the short per-player reclaim
// cooldown so the abandoning player does not immediately re-acquire it.
func (q *PromptQueue) Release(roundID, playerID uint, withCooldown bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.waiting[roundID]; ok && entry.PendingCopies > 0 {
		entry.PendingCopies--
	}
	if !withCooldown {
		return
	}
	byPlayer := q.cooldowns[playerID]
	if byPlayer == nil {
		byPlayer = make(map[uint]time.Time)
		q.cooldowns[playerID] = byPlayer
	}
	byPlayer[roundID] = time.Now().UTC().Add(q.cooldownTTL)
}

// SlotFilled records a copy submission landing in a prompt slot. The
// prompt leaves the queue once both slots are taken.
func (q *PromptQueue) SlotFilled(roundID uint, filledSlots int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.waiting[roundID]
	if !ok {
		return
	}
	if entry.PendingCopies > 0 {
		entry.PendingCopies--
	}
	entry.FilledSlots = filledSlots
	if filledSlots >= 2 {
		delete(q.waiting, roundID)
	}
}

// Remove drops a prompt outright (expired or force-closed).
func (q *PromptQueue) Remove(roundID uint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.waiting, roundID)
}

// DiscountActive reports whether the copy-cost discount is on: the
// waiting-prompts to recent-copies ratio dropped below the threshold.
func (q *PromptQueue) DiscountActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneRecent(time.Now().UTC())
	recent := len(q.recentCopies)
	if recent == 0 {
		return false
	}
	ratio := float64(len(q.waiting)) / float64(recent)
	return ratio < q.discountThreshold
}

// WaitingCount reports queue depth for operators.
func (q *PromptQueue) WaitingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

func (q *PromptQueue) pruneRecent(now time.Time) {
	cutoff := now.Add(-q.recentWindow)
	kept := q.recentCopies[:0]
	for _, at := range q.recentCopies {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	q.recentCopies = kept

	for playerID, byPrompt := range q.cooldowns {
		for roundID, until := range byPrompt {
			if !now.Before(until) {
				delete(byPrompt, roundID)
			}
		}
		if len(byPrompt) == 0 {
			delete(q.cooldowns, playerID)
		}
	}
}
