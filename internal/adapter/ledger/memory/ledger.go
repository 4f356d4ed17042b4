// Package memory is an in-process ledger used by the sandbox mode and tests.
// It keeps balances and an operation journal and can inject failures per
// operation.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/ledgerbridge/internal/domain"
)

// Op names a ledger operation for fault injection and call counting.
type Op string

const (
	OpResolve Op = "resolve"
	OpBalance Op = "balance"
	OpDebit   Op = "debit"
	OpCredit  Op = "credit"
	OpFind    Op = "find"
)

// Fault makes calls of an operation fail.
type Fault struct {
	Err error
	// Apply performs the operation before returning Err, like a response
	// lost after the ledger committed.
	Apply bool
	// Times is the number of calls affected; zero means every call.
	Times int
}

type account struct {
	id       string
	identity string
	balance  decimal.Decimal
}

type operation struct {
	result    domain.LedgerOpResult
	accountID string
	op        Op
	tag       string
}

// Ledger is a thread-safe in-memory ledger.
type Ledger struct {
	mu       sync.Mutex
	kind     domain.LedgerKind
	currency string
	now      func() time.Time

	accounts map[string]*account // by normalized identity
	journal  []operation
	seq      int

	faults map[Op][]*Fault
	calls  map[Op]int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCurrency sets the ledger currency. The default is USD.
func WithCurrency(currency string) Option {
	return func(l *Ledger) { l.currency = strings.ToUpper(currency) }
}

// WithNow sets the time source for operation timestamps.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger of the given kind.
func New(kind domain.LedgerKind, opts ...Option) *Ledger {
	l := &Ledger{
		kind:     kind,
		currency: domain.DefaultCurrency,
		now:      func() time.Time { return time.Now().UTC() },
		accounts: make(map[string]*account),
		faults:   make(map[Op][]*Fault),
		calls:    make(map[Op]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open creates (or tops up to) an account for identity with balance.
func (l *Ledger) Open(identity string, balance decimal.Decimal) domain.AccountRef {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := domain.NormalizeIdentity(identity)
	acct, ok := l.accounts[key]
	if !ok {
		l.seq++
		acct = &account{
			id:       fmt.Sprintf("%s-acct-%d", strings.ToLower(string(l.kind)), l.seq),
			identity: key,
		}
		l.accounts[key] = acct
	}
	acct.balance = balance

	return l.ref(acct)
}

// Balance returns the current balance of identity, or zero.
func (l *Ledger) Balance(identity string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.accounts[domain.NormalizeIdentity(identity)]; ok {
		return acct.balance
	}
	return decimal.Zero
}

// Inject queues a fault for op.
func (l *Ledger) Inject(op Op, fault Fault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := fault
	l.faults[op] = append(l.faults[op], &f)
}

// ClearFaults removes all queued faults.
func (l *Ledger) ClearFaults() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = make(map[Op][]*Fault)
}

// Calls returns how many times op was invoked.
func (l *Ledger) Calls(op Op) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// Mutations returns the number of applied debits and credits.
func (l *Ledger) Mutations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// Kind implements the ledger client contract.
func (l *Ledger) Kind() domain.LedgerKind {
	return l.kind
}

// ResolveAccount returns the account of identity.
func (l *Ledger) ResolveAccount(ctx context.Context, identity string) (domain.AccountRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(ctx, OpResolve); err != nil {
		return domain.AccountRef{}, err
	}

	acct, ok := l.accounts[domain.NormalizeIdentity(identity)]
	if !ok {
		return domain.AccountRef{}, domain.ErrIdentityNotFound
	}
	return l.ref(acct), nil
}

// GetBalance returns the available balance of the account.
func (l *Ledger) GetBalance(ctx context.Context, ref domain.AccountRef) (domain.Money, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(ctx, OpBalance); err != nil {
		return domain.Money{}, err
	}

	acct, err := l.lookup(ref)
	if err != nil {
		return domain.Money{}, err
	}
	return domain.NewMoney(acct.balance, l.currency), nil
}

// Debit withdraws amount. The ledger refuses overdrafts.
func (l *Ledger) Debit(ctx context.Context, ref domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	return l.mutate(ctx, OpDebit, ref, amount, memo, tag)
}

// Credit deposits amount.
func (l *Ledger) Credit(ctx context.Context, ref domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	return l.mutate(ctx, OpCredit, ref, amount, memo, tag)
}

// FindOperation returns the most recent operation on ref carrying tag.
func (l *Ledger) FindOperation(ctx context.Context, ref domain.AccountRef, tag string) (*domain.LedgerOpResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(ctx, OpFind); err != nil {
		return nil, err
	}

	for i := len(l.journal) - 1; i >= 0; i-- {
		op := l.journal[i]
		if op.accountID == ref.ExternalID && op.tag == tag {
			res := op.result
			return &res, nil
		}
	}
	return nil, domain.ErrOperationNotFound
}

func (l *Ledger) mutate(ctx context.Context, op Op, ref domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls[op]++
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}

	fault := l.nextFault(op)
	if fault != nil && !fault.Apply {
		return nil, fault.Err
	}

	acct, err := l.lookup(ref)
	if err != nil {
		return nil, err
	}
	if amount.Currency != l.currency {
		return nil, fmt.Errorf("%w: currency %s not supported", domain.ErrLedgerRejected, amount.Currency)
	}

	switch op {
	case OpDebit:
		if acct.balance.LessThan(amount.Amount) {
			return nil, &domain.InsufficientFundsError{
				Available: domain.NewMoney(acct.balance, l.currency),
				Required:  amount,
			}
		}
		acct.balance = acct.balance.Sub(amount.Amount)
	default:
		acct.balance = acct.balance.Add(amount.Amount)
	}

	l.seq++
	res := domain.LedgerOpResult{
		ExternalRef: fmt.Sprintf("%s-%s-%d", strings.ToLower(string(l.kind)), op, l.seq),
		Status:      "posted",
		Amount:      amount,
		Memo:        memo,
		At:          l.now(),
	}
	l.journal = append(l.journal, operation{result: res, accountID: acct.id, op: op, tag: tag})

	if fault != nil {
		return nil, fault.Err
	}
	return &res, nil
}

// enter counts the call and applies a non-applying fault. Callers hold mu.
func (l *Ledger) enter(ctx context.Context, op Op) error {
	l.calls[op]++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if fault := l.nextFault(op); fault != nil {
		return fault.Err
	}
	return nil
}

func (l *Ledger) nextFault(op Op) *Fault {
	queue := l.faults[op]
	if len(queue) == 0 {
		return nil
	}
	f := queue[0]
	if f.Times == 0 {
		return f
	}
	f.Times--
	if f.Times == 0 {
		l.faults[op] = queue[1:]
	}
	return f
}

func (l *Ledger) lookup(ref domain.AccountRef) (*account, error) {
	for _, acct := range l.accounts {
		if acct.id == ref.ExternalID {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("%w: account %s", domain.ErrLedgerRejected, ref.ExternalID)
}

func (l *Ledger) ref(acct *account) domain.AccountRef {
	return domain.AccountRef{Ledger: l.kind, ExternalID: acct.id, OwnerIdentity: acct.identity}
}
