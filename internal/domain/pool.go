package domain

// Pool is a liquidity pool on the AMM service.
type Pool struct {
	ID    string `json:"pool_id"`
	TxID  string `json:"tx_id,omitempty"`
	URL   string `json:"url,omitempty"`
	MintA string `json:"mint_a,omitempty"`
	MintB string `json:"mint_b,omitempty"`
}

// PoolSpec is a request to create a pool. MintA sorts before MintB.
type PoolSpec struct {
	MintA   string `json:"mint_a"`
	MintB   string `json:"mint_b"`
	AmountA uint64 `json:"amount_a"`
	AmountB uint64 `json:"amount_b"`
	Creator string `json:"creator"`
}
