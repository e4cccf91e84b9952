package domain

import "sort"

// Account is the latest known state of an account. DeletedHeight is zero
// while the account exists.
type Account struct {
	AccountID        string
	CreatedHeight    uint64
	DeletedHeight    uint64
	Amount           string
	Locked           string
	LastUpdateHeight uint64
}

// Merge applies newer state from o. Applying the same state twice, or an
// older state after a newer one, leaves a unchanged.
func (a *Account) Merge(o *Account) {
	if o.CreatedHeight < a.CreatedHeight {
		a.CreatedHeight = o.CreatedHeight
	}
	if o.LastUpdateHeight < a.LastUpdateHeight {
		return
	}
	a.Amount = o.Amount
	a.Locked = o.Locked
	a.DeletedHeight = o.DeletedHeight
	a.LastUpdateHeight = o.LastUpdateHeight
}

// stateOrder puts deletion after a balance update at the same height.
var stateOrder = map[AccountEventKind]int{
	AccountEventGenesis: 0,
	AccountEventBalance: 1,
	AccountEventDeleted: 2,
}

// FoldAccounts reduces state-bearing events to one Account per id, sorted by
// id. Activity events (signer, receiver) carry no state and are skipped.
func FoldAccounts(events []*AccountEvent) []*Account {
	state := make([]*AccountEvent, 0, len(events))
	for _, e := range events {
		if _, ok := stateOrder[e.EventKind]; ok {
			state = append(state, e)
		}
	}
	sort.SliceStable(state, func(i, j int) bool {
		if state[i].BlockHeight != state[j].BlockHeight {
			return state[i].BlockHeight < state[j].BlockHeight
		}
		return stateOrder[state[i].EventKind] < stateOrder[state[j].EventKind]
	})

	byID := make(map[string]*Account)
	for _, e := range state {
		next := &Account{
			AccountID:        e.AccountID,
			CreatedHeight:    e.BlockHeight,
			Amount:           e.Amount,
			Locked:           e.Locked,
			LastUpdateHeight: e.BlockHeight,
		}
		if e.EventKind == AccountEventDeleted {
			next.DeletedHeight = e.BlockHeight
		}

		cur, ok := byID[e.AccountID]
		if !ok {
			byID[e.AccountID] = next
			continue
		}
		if e.EventKind == AccountEventDeleted {
			// Deletion keeps the last known balance.
			next.Amount, next.Locked = cur.Amount, cur.Locked
		}
		cur.Merge(next)
	}

	out := make([]*Account, 0, len(byID))
	for _, a := range byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
