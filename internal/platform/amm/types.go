package amm

import "github.com/alanyoungcy/battlekeeper/internal/domain"

// APIPool is a pool as returned by the AMM service.
type APIPool struct {
	PoolID string `json:"pool_id"`
	MintA  string `json:"mint_a"`
	MintB  string `json:"mint_b"`
	URL    string `json:"url"`
	TxID   string `json:"tx_id,omitempty"`
}

// ToDomainPool converts the API representation.
func (p APIPool) ToDomainPool() domain.Pool {
	return domain.Pool{
		ID:    p.PoolID,
		TxID:  p.TxID,
		URL:   p.URL,
		MintA: p.MintA,
		MintB: p.MintB,
	}
}

type listPoolsResponse struct {
	Pools []APIPool `json:"pools"`
}

type createPoolRequest struct {
	MintA   string `json:"mint_a"`
	MintB   string `json:"mint_b"`
	AmountA string `json:"amount_a"`
	AmountB string `json:"amount_b"`
	Creator string `json:"creator"`
}

type createPoolResponse struct {
	PoolID string `json:"pool_id"`
	TxID   string `json:"tx_id"`
	URL    string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}
