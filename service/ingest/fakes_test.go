package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/decoder"
	natspkg "github.com/brojonat/tradewatch/service/nats"
	"github.com/brojonat/tradewatch/service/solana"
	"github.com/brojonat/tradewatch/service/symbols"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	atlasMint = "ATLASXmbPQxBUYbxPsV97usA3fPQYEqzQBUHgiFCUsXx"
	usdcMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var program = solanago.MustPublicKeyFromBase58("traderDnaR5w6Tcoi3NFm53i48FTDNbGjBSZwWXDRrg")

// fakeLedger serves signature pages from a newest-first history with the
// RPC's exclusive before/until semantics.
type fakeLedger struct {
	mu       sync.Mutex
	history  []solana.SignatureInfo
	failures int
	calls    []solana.ListSignaturesParams
}

func newFakeLedger(sigs ...string) *fakeLedger {
	l := &fakeLedger{}
	for i, s := range sigs {
		bt := int64(1700000000 - i*10)
		l.history = append(l.history, solana.SignatureInfo{Signature: s, BlockTime: &bt})
	}
	return l
}

// prepend adds newer signatures at the head.
func (l *fakeLedger) prepend(sigs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	head := int64(1700000000)
	if len(l.history) > 0 {
		head = *l.history[0].BlockTime
	}
	var fresh []solana.SignatureInfo
	for i, s := range sigs {
		bt := head + int64(len(sigs)-i)*10
		fresh = append(fresh, solana.SignatureInfo{Signature: s, BlockTime: &bt})
	}
	l.history = append(fresh, l.history...)
}

func (l *fakeLedger) ListSignatures(_ context.Context, _ solanago.PublicKey, p solana.ListSignaturesParams) ([]solana.SignatureInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, p)
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("rpc unavailable")
	}

	start := 0
	if p.Before != "" {
		start = l.index(p.Before) + 1
	}
	var out []solana.SignatureInfo
	for _, s := range l.history[start:] {
		if s.Signature == p.Until || len(out) == p.Limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func (l *fakeLedger) index(sig string) int {
	for i, s := range l.history {
		if s.Signature == sig {
			return i
		}
	}
	return len(l.history)
}

// fakeDecoder returns canned instruction lists. Unknown signatures decode
// to a single unknown instruction.
type fakeDecoder struct {
	txs  map[string][]decoder.Instruction
	fail map[string]bool
}

func (d *fakeDecoder) Decode(_ context.Context, sig string) (*decoder.Decoded, error) {
	if d.fail[sig] {
		return nil, &decoder.DecodeFailure{Signature: sig, Err: errors.New("transaction not available")}
	}
	ixs, ok := d.txs[sig]
	if !ok {
		ixs = []decoder.Instruction{{Name: decoder.UnknownName}}
	}
	return &decoder.Decoded{Signature: sig, Instructions: ixs}, nil
}

// memStore mimics the unique signature constraint of the real tables.
type memStore struct {
	mu     sync.Mutex
	events map[string]*classifier.Event
	failOn map[string]int
}

func newMemStore() *memStore {
	return &memStore{events: map[string]*classifier.Event{}, failOn: map[string]int{}}
}

func (s *memStore) PersistEvent(_ context.Context, e *classifier.Event) (db.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[e.Signature] > 0 {
		s.failOn[e.Signature]--
		return 0, &db.PersistenceFailure{Signature: e.Signature, Table: "mem", Err: errors.New("connection reset")}
	}
	if _, ok := s.events[e.Signature]; ok {
		return db.OutcomeAlreadyExists, nil
	}
	s.events[e.Signature] = e
	return db.OutcomeInserted, nil
}

func (s *memStore) get(sig string) *classifier.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[sig]
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type memCheckpoints struct {
	mu    sync.Mutex
	saved map[string]db.Checkpoint
	err   error
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{saved: map[string]db.Checkpoint{}}
}

func (m *memCheckpoints) GetCursor(_ context.Context, name string) (*db.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.saved[name]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &cp, nil
}

func (m *memCheckpoints) SaveCursor(_ context.Context, cp db.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved[cp.Name] = cp
	return nil
}

func exchangeIx(qty, price uint64) decoder.Instruction {
	return decoder.Instruction{
		Name: classifier.ProcessExchange,
		Accounts: []decoder.AccountRef{
			{Name: "currencyMint", Pubkey: usdcMint},
			{Name: "assetMint", Pubkey: atlasMint},
		},
		Args: map[string]any{"purchaseQuantity": qty, "expectedPrice": price},
	}
}

func cancelIx() decoder.Instruction {
	return decoder.Instruction{Name: classifier.ProcessCancel}
}

func testClassifier() *classifier.Classifier {
	assets := []symbols.Descriptor{{Symbol: "ATLAS", Mint: atlasMint}}
	currencies := []symbols.Descriptor{{Symbol: "USDC", Mint: usdcMint}}
	return classifier.New(symbols.NewResolver(assets, currencies))
}

func publishedSignatures(p *natspkg.MockPublisher) []string {
	var out []string
	for _, e := range p.GetPublishedEvents() {
		out = append(out, e.Signature)
	}
	return out
}

type harness struct {
	ledger    *fakeLedger
	decoder   *fakeDecoder
	store     *memStore
	publisher *natspkg.MockPublisher
	pipeline  *Pipeline
}

func newHarness(pageLimit int, ledger *fakeLedger) *harness {
	h := &harness{
		ledger:    ledger,
		decoder:   &fakeDecoder{txs: map[string][]decoder.Instruction{}, fail: map[string]bool{}},
		store:     newMemStore(),
		publisher: natspkg.NewMockPublisher(),
	}
	h.pipeline = NewPipeline(program, pageLimit, Deps{
		Lister:     h.ledger,
		Decoder:    h.decoder,
		Classifier: testClassifier(),
		Store:      h.store,
		Publisher:  h.publisher,
	})
	return h
}

func sigs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return out
}
