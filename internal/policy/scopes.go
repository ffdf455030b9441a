package policy

// Operation identifies a financial operation passing through the gate
type Operation string

const (
	OpLedgerRead        Operation = "ledger.read"
	OpLedgerPost        Operation = "ledger.post"
	OpLedgerAdmin       Operation = "ledger.admin"
	OpTransactionRead   Operation = "transaction.read"
	OpTransactionCreate Operation = "transaction.create"
	OpTransactionCancel Operation = "transaction.cancel"
	OpPayoutRead        Operation = "payout.read"
	OpPayoutCreate      Operation = "payout.create"
	OpPayoutApprove     Operation = "payout.approve"
	OpPayoutExecute     Operation = "payout.execute"
	OpBalanceRead       Operation = "balance.read"
	OpBalanceLock       Operation = "balance.lock"
	OpBalanceUnlock     Operation = "balance.unlock"
	OpReportBasic       Operation = "report.basic"
	OpReportDetailed    Operation = "report.detailed"
	OpReportAdmin       Operation = "report.admin"
)

// Capability scope identifiers. These are wire-compatible with the rest of
// the platform and must not be renamed.
const (
	ScopeLedgerRead        = "ledger:read"
	ScopeLedgerPost        = "ledger:post"
	ScopeLedgerAdmin       = "ledger:admin"
	ScopeTransactionRead   = "transaction:read"
	ScopeTransactionCreate = "transaction:create"
	ScopeTransactionCancel = "transaction:cancel"
	ScopePayoutRead        = "payout:read"
	ScopePayoutCreate      = "payout:create"
	ScopePayoutApprove     = "payout:approve"
	ScopePayoutExecute     = "payout:execute"
	ScopeBalanceRead       = "balance:read"
	ScopeBalanceLock       = "balance:lock"
	ScopeBalanceUnlock     = "balance:unlock"
	ScopeReportBasic       = "report:basic"
	ScopeReportDetailed    = "report:detailed"
	ScopeReportAdmin       = "report:admin"
)

// requiredScope maps each operation to the capability scope it demands
var requiredScope = map[Operation]string{
	OpLedgerRead:        ScopeLedgerRead,
	OpLedgerPost:        ScopeLedgerPost,
	OpLedgerAdmin:       ScopeLedgerAdmin,
	OpTransactionRead:   ScopeTransactionRead,
	OpTransactionCreate: ScopeTransactionCreate,
	OpTransactionCancel: ScopeTransactionCancel,
	OpPayoutRead:        ScopePayoutRead,
	OpPayoutCreate:      ScopePayoutCreate,
	OpPayoutApprove:     ScopePayoutApprove,
	OpPayoutExecute:     ScopePayoutExecute,
	OpBalanceRead:       ScopeBalanceRead,
	OpBalanceLock:       ScopeBalanceLock,
	OpBalanceUnlock:     ScopeBalanceUnlock,
	OpReportBasic:       ScopeReportBasic,
	OpReportDetailed:    ScopeReportDetailed,
	OpReportAdmin:       ScopeReportAdmin,
}

// sensitiveOps require a verified second factor
var sensitiveOps = map[Operation]bool{
	OpPayoutApprove: true,
	OpPayoutExecute: true,
	OpLedgerAdmin:   true,
	OpBalanceUnlock: true,
}

// makerCheckerOps require a distinct prior approval before executing
var makerCheckerOps = map[Operation]bool{
	OpPayoutApprove: true,
	OpPayoutExecute: true,
	OpLedgerAdmin:   true,
}

// opTraits controls which pipeline steps apply per operation
type opTraits struct {
	idempotent     bool // steps: missing-id check + idempotency check/create
	validateLedger bool
	balanceLock    bool
}

var traits = map[Operation]opTraits{
	OpLedgerPost:        {idempotent: true, validateLedger: true, balanceLock: true},
	OpTransactionCreate: {idempotent: true, validateLedger: true, balanceLock: true},
	OpTransactionCancel: {balanceLock: true},
	OpPayoutCreate:      {idempotent: true},
	OpPayoutExecute:     {idempotent: true, balanceLock: true},
}
