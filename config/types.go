package config

// Stablecoin identifies the synthetic token and the account that deploys it.
// Ownership moves to the engine at startup.
type Stablecoin struct {
	Address string `toml:"Address"`
	Owner   string `toml:"Owner"`
}

// Collateral registers one allow-listed asset and the feed that prices it.
// InitialPrice seeds the feed with an 8 decimal answer and may be empty.
type Collateral struct {
	Symbol       string `toml:"Symbol"`
	Asset        string `toml:"Asset"`
	Feed         string `toml:"Feed"`
	InitialPrice string `toml:"InitialPrice,omitempty"`
}

// Allocation credits Amount base units of Asset to Account at first start.
type Allocation struct {
	Account string `toml:"Account"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}
