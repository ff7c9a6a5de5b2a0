package clients

import "context"

// BankClient calls the Central Bank's account, escrow, and transaction surface.
type BankClient struct{ base }

func NewBankClient(baseURL string) *BankClient {
	return &BankClient{base: newBase(baseURL)}
}

type Account struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"created_at"`
}

// OpenAccount is idempotent on the bank side; retried here too since a
// timeout on the first attempt must not leave the caller unsure whether the
// account was opened.
func (c *BankClient) OpenAccount(ctx context.Context, agentID string) (*Account, error) {
	var out Account
	req := map[string]string{"agent_id": agentID}
	if err := c.doIdempotent(ctx, "POST", "/accounts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Transaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
	Reference     string `json:"reference"`
}

func (c *BankClient) Credit(ctx context.Context, accountID string, amount int64, reference string) (*Transaction, error) {
	var out Transaction
	req := map[string]any{"account_id": accountID, "amount": amount, "reference": reference}
	if err := c.doIdempotent(ctx, "POST", "/credits", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Escrow struct {
	EscrowID string `json:"escrow_id"`
	Status   string `json:"status"`
}

// LockEscrow is not retried: a timed-out lock attempt might have already
// succeeded server-side, and since the bank allows one escrow per task_id,
// re-issuing it would then fail with escrow_exists instead of returning the
// existing escrow. The caller's composite operation (task creation) must
// surface the error and compensate instead.
func (c *BankClient) LockEscrow(ctx context.Context, payer string, amount int64, taskID string) (*Escrow, error) {
	var out Escrow
	req := map[string]any{"payer": payer, "amount": amount, "task_id": taskID}
	if err := c.do(ctx, "POST", "/escrow", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BankClient) ReleaseEscrow(ctx context.Context, escrowID, recipient string) error {
	req := map[string]string{"recipient": recipient}
	return c.do(ctx, "POST", "/escrow/"+escrowID+"/release", req, nil)
}

func (c *BankClient) SplitEscrow(ctx context.Context, escrowID string, workerPct int, worker, poster string) error {
	req := map[string]any{"worker_pct": workerPct, "worker": worker, "poster": poster}
	return c.do(ctx, "POST", "/escrow/"+escrowID+"/split", req, nil)
}

func (c *BankClient) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var out Account
	if err := c.do(ctx, "GET", "/accounts/"+accountID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
