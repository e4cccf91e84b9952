package domain

// GenesisAccount is an account from the genesis snapshot.
type GenesisAccount struct {
	AccountID    string
	Amount       string
	Locked       string
	StorageUsage uint64
}

// Event returns the genesis account as a baseline event at height.
func (g GenesisAccount) Event(height uint64) *AccountEvent {
	return &AccountEvent{
		AccountID:   g.AccountID,
		BlockHeight: height,
		EventKind:   AccountEventGenesis,
		Amount:      g.Amount,
		Locked:      g.Locked,
		Count:       1,
	}
}
