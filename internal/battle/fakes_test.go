package battle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAssetID() string {
	return solana.NewWallet().PublicKey().String()
}

func testParams() Params {
	p := DefaultParams()
	p.PollInterval = time.Millisecond
	p.PropagationTimeout = 50 * time.Millisecond
	p.RunBudget = 2 * time.Second
	p.FeeReserve = 1_000
	return p
}

// --- ledger ---

type fakeLedger struct {
	mu     sync.Mutex
	params Params
	states map[string]domain.BattleState

	// failNext holds a one-shot error per step.
	failNext map[domain.Step]*domain.LedgerError
	// alwaysFail holds a persistent error per step.
	alwaysFail map[domain.Step]*domain.LedgerError
	// noEffect makes a step confirm without changing state.
	noEffect map[domain.Step]bool
	// staleReads makes the next n reads of an asset report this status.
	staleReads map[string]int
	staleAs    map[string]domain.BattleStatus
	// winnerSkew is added to the winner's post-finalize value.
	winnerSkew uint64

	withdrawn   map[string]bool
	submissions map[domain.Step]int
	readErr     error
	txSeq       int
}

func newFakeLedger(p Params) *fakeLedger {
	return &fakeLedger{
		params:      p,
		states:      make(map[string]domain.BattleState),
		failNext:    make(map[domain.Step]*domain.LedgerError),
		alwaysFail:  make(map[domain.Step]*domain.LedgerError),
		noEffect:    make(map[domain.Step]bool),
		staleReads:  make(map[string]int),
		staleAs:     make(map[string]domain.BattleStatus),
		withdrawn:   make(map[string]bool),
		submissions: make(map[domain.Step]int),
	}
}

func (f *fakeLedger) put(st domain.BattleState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.AssetID] = st
}

func (f *fakeLedger) get(id string) domain.BattleState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id]
}

func (f *fakeLedger) count(step domain.Step) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[step]
}

func (f *fakeLedger) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.submissions {
		n += c
	}
	return n
}

func (f *fakeLedger) ReadState(_ context.Context, assetID string) (domain.BattleState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return domain.BattleState{}, false, f.readErr
	}
	st, ok := f.states[assetID]
	if !ok {
		return domain.BattleState{}, false, nil
	}
	if f.staleReads[assetID] > 0 {
		f.staleReads[assetID]--
		st.Status = f.staleAs[assetID]
	}
	return st, true, nil
}

// submit returns the configured failure for step, if any, and counts the
// submission.
func (f *fakeLedger) submit(step domain.Step) (domain.TxOutcome, bool) {
	f.submissions[step]++
	f.txSeq++
	txID := fmt.Sprintf("tx-%s-%d", step, f.txSeq)
	if le, ok := f.failNext[step]; ok {
		delete(f.failNext, step)
		return domain.TxOutcome{TxID: txID, Err: le}, false
	}
	if le, ok := f.alwaysFail[step]; ok {
		return domain.TxOutcome{TxID: txID, Err: le}, false
	}
	return domain.TxOutcome{Success: true, TxID: txID}, !f.noEffect[step]
}

func (f *fakeLedger) CheckVictory(_ context.Context, assetID string) domain.TxOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, apply := f.submit(domain.StepCheckVictory)
	if !apply {
		return out
	}
	st := f.states[assetID]
	if st.Status != domain.StatusInBattle {
		return domain.TxOutcome{TxID: out.TxID, Err: &domain.LedgerError{Code: domain.CodeInvalidBattleStatus}}
	}
	if !f.params.Thresholds.VictoryAchieved(st.Deposited, st.Volume) {
		return domain.TxOutcome{TxID: out.TxID, Err: &domain.LedgerError{Code: domain.CodeVictoryConditionsNotMet}}
	}
	st.Status = domain.StatusVictoryPending
	f.states[assetID] = st
	return out
}

func (f *fakeLedger) FinalizeDuel(_ context.Context, winnerID, loserID string) domain.TxOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, apply := f.submit(domain.StepFinalize)
	if !apply {
		return out
	}
	w, l := f.states[winnerID], f.states[loserID]
	if w.Status >= domain.StatusListed {
		return domain.TxOutcome{TxID: out.TxID, Err: &domain.LedgerError{Code: domain.CodeAlreadyFinalized}}
	}
	exp := ExpectPlunder(f.params, w.Deposited, l.Deposited)
	w.Deposited = exp.WinnerExpected + f.winnerSkew
	w.Status = domain.StatusListed
	l.Deposited = exp.LoserExpected
	f.states[winnerID], f.states[loserID] = w, l
	return out
}

func (f *fakeLedger) WithdrawForListing(_ context.Context, assetID string) domain.TxOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, apply := f.submit(domain.StepWithdraw)
	if !apply {
		return out
	}
	if f.withdrawn[assetID] {
		return domain.TxOutcome{TxID: out.TxID, Err: &domain.LedgerError{Code: domain.CodeNoFundsToWithdraw}}
	}
	f.withdrawn[assetID] = true
	return out
}

// --- keeper funds ---

type fakeFunds struct {
	native   uint64
	tokens   uint64
	tokenErr error
}

func (f *fakeFunds) KeeperAddress() string { return "keeper" }

func (f *fakeFunds) NativeBalance(context.Context) (uint64, error) { return f.native, nil }

func (f *fakeFunds) TokenBalance(context.Context, string) (uint64, error) {
	return f.tokens, f.tokenErr
}

// --- AMM ---

type fakeAMM struct {
	mu        sync.Mutex
	pools     map[string]domain.Pool
	createErr error
	// landsAnyway creates the pool even when createErr is returned.
	landsAnyway bool
	creates     []domain.PoolSpec
	findErr     error
}

func newFakeAMM() *fakeAMM {
	return &fakeAMM{pools: make(map[string]domain.Pool)}
}

func (a *fakeAMM) FindPool(_ context.Context, mint string) (domain.Pool, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.findErr != nil {
		return domain.Pool{}, false, a.findErr
	}
	p, ok := a.pools[mint]
	return p, ok, nil
}

func (a *fakeAMM) CreatePool(_ context.Context, spec domain.PoolSpec) (domain.Pool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates = append(a.creates, spec)
	mint := spec.MintA
	if mint == WrappedNativeMint {
		mint = spec.MintB
	}
	pool := domain.Pool{
		ID:    "pool-" + mint[:6],
		TxID:  "tx-pool-" + mint[:6],
		URL:   "https://amm.example/pool/" + mint[:6],
		MintA: spec.MintA,
		MintB: spec.MintB,
	}
	if a.createErr != nil {
		if a.landsAnyway {
			a.pools[mint] = pool
		}
		return domain.Pool{}, a.createErr
	}
	a.pools[mint] = pool
	return pool, nil
}

// --- index ---

type fakeIndex struct {
	mu          sync.Mutex
	assets      map[string]domain.IndexedAsset
	steps       []domain.StepOutcome
	winners     map[string]int
	completions int
	failures    []*domain.ExecuteResult
	corrections []domain.BattleState
	scans       int
	statusLog   map[string][]domain.BattleStatus
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		assets:    make(map[string]domain.IndexedAsset),
		winners:   make(map[string]int),
		statusLog: make(map[string][]domain.BattleStatus),
	}
}

func (x *fakeIndex) seed(a domain.IndexedAsset) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.assets[a.AssetID] = a
}

func (x *fakeIndex) asset(id string) domain.IndexedAsset {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.assets[id]
}

func (x *fakeIndex) advance(id string, status domain.BattleStatus) {
	a := x.assets[id]
	a.AssetID = id
	if status > a.Status {
		a.Status = status
	}
	x.assets[id] = a
	x.statusLog[id] = append(x.statusLog[id], a.Status)
}

func (x *fakeIndex) Lookup(_ context.Context, id string) (domain.IndexedAsset, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.assets[id]
	return a, ok
}

func (x *fakeIndex) ListActive(context.Context) ([]domain.IndexedAsset, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []domain.IndexedAsset
	for _, a := range x.assets {
		for _, s := range activeStatuses {
			if a.Status == s {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (x *fakeIndex) RecordStep(_ context.Context, o domain.StepOutcome) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.steps = append(x.steps, o)
	x.advance(o.AssetID, o.Status)
	if o.PoolID != "" {
		a := x.assets[o.AssetID]
		a.PoolID, a.PoolURL = o.PoolID, o.PoolURL
		x.assets[o.AssetID] = a
	}
}

func (x *fakeIndex) RecordCompletion(_ context.Context, run *domain.ExecuteResult) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.completions++
	x.winners[run.AssetID] = 1
}

func (x *fakeIndex) RecordFailure(_ context.Context, run *domain.ExecuteResult) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.failures = append(x.failures, run)
}

func (x *fakeIndex) CorrectStatus(_ context.Context, st domain.BattleState) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.corrections = append(x.corrections, st)
	x.advance(st.AssetID, st.Status)
}

func (x *fakeIndex) RecordScan(context.Context, domain.ScanResult) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.scans++
}

// --- lease ---

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
	ttls []time.Duration
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.keys = append(l.keys, key)
	l.ttls = append(l.ttls, ttl)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, key)
		})
	}, nil
}
