// Package eventlog implements the monotonic append-only event feed shared
// by every service: a tagged-variant payload, a GORM-backed durable store
// with catch-up queries, and an in-memory live push broker.
package eventlog

// Event type constants, exactly the enumerated set from the external
// interfaces design. Nothing outside this list is ever written.
const (
	TypeAgentRegistered = "agent.registered"

	TypeAccountCreated = "account.created"
	TypeSalaryPaid     = "salary.paid"
	TypeEscrowLocked   = "escrow.locked"
	TypeEscrowReleased = "escrow.released"
	TypeEscrowSplit    = "escrow.split"

	TypeTaskCreated     = "task.created"
	TypeTaskCancelled   = "task.cancelled"
	TypeTaskExpired     = "task.expired"
	TypeBidSubmitted    = "bid.submitted"
	TypeTaskAccepted    = "task.accepted"
	TypeAssetUploaded   = "asset.uploaded"
	TypeTaskSubmitted   = "task.submitted"
	TypeTaskApproved    = "task.approved"
	TypeTaskAutoApproved = "task.auto_approved"
	TypeTaskDisputed    = "task.disputed"
	TypeTaskRuled       = "task.ruled"

	TypeFeedbackRevealed = "feedback.revealed"

	TypeClaimFiled        = "claim.filed"
	TypeRebuttalSubmitted = "rebuttal.submitted"
	TypeRulingDelivered   = "ruling.delivered"

	// TypeInvariantViolation is emitted alongside a 500-class fatal error,
	// per the error handling design's "impossible state" classification.
	TypeInvariantViolation = "system.invariant_violation"
)

// Payload is implemented by every concrete event variant. Modeling events
// as a tagged variant (rather than a bag of optional fields read
// dynamically) means the payload shape is validated at write time, per the
// event log's polymorphism design note.
type Payload interface {
	EventType() string
}

type AgentRegistered struct {
	AgentID   string `json:"agent_id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

func (AgentRegistered) EventType() string { return TypeAgentRegistered }

type AccountCreated struct {
	AccountID string `json:"account_id"`
}

func (AccountCreated) EventType() string { return TypeAccountCreated }

type SalaryPaid struct {
	RoundID string `json:"round_id"`
	Amount  int64  `json:"amount"`
	Count   int    `json:"accounts_credited"`
}

func (SalaryPaid) EventType() string { return TypeSalaryPaid }

type EscrowLocked struct {
	EscrowID string `json:"escrow_id"`
	TaskID   string `json:"task_id"`
	Payer    string `json:"payer"`
	Amount   int64  `json:"amount"`
}

func (EscrowLocked) EventType() string { return TypeEscrowLocked }

type EscrowReleased struct {
	EscrowID  string `json:"escrow_id"`
	TaskID    string `json:"task_id"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

func (EscrowReleased) EventType() string { return TypeEscrowReleased }

type EscrowSplit struct {
	EscrowID     string `json:"escrow_id"`
	TaskID       string `json:"task_id"`
	WorkerPct    int    `json:"worker_pct"`
	WorkerAmount int64  `json:"worker_amount"`
	PosterAmount int64  `json:"poster_amount"`
}

func (EscrowSplit) EventType() string { return TypeEscrowSplit }

type TaskCreated struct {
	TaskID string `json:"task_id"`
	Poster string `json:"poster"`
	Reward int64  `json:"reward"`
}

func (TaskCreated) EventType() string { return TypeTaskCreated }

type TaskCancelled struct {
	TaskID string `json:"task_id"`
}

func (TaskCancelled) EventType() string { return TypeTaskCancelled }

type TaskExpired struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"` // "bidding" or "execution"
}

func (TaskExpired) EventType() string { return TypeTaskExpired }

type BidSubmitted struct {
	TaskID string `json:"task_id"`
	BidID  string `json:"bid_id"`
	Bidder string `json:"bidder"`
}

func (BidSubmitted) EventType() string { return TypeBidSubmitted }

type TaskAccepted struct {
	TaskID string `json:"task_id"`
	BidID  string `json:"bid_id"`
	Worker string `json:"worker"`
}

func (TaskAccepted) EventType() string { return TypeTaskAccepted }

type AssetUploaded struct {
	TaskID  string `json:"task_id"`
	AssetID string `json:"asset_id"`
	Uploader string `json:"uploader"`
}

func (AssetUploaded) EventType() string { return TypeAssetUploaded }

type TaskSubmitted struct {
	TaskID string `json:"task_id"`
}

func (TaskSubmitted) EventType() string { return TypeTaskSubmitted }

type TaskApproved struct {
	TaskID string `json:"task_id"`
}

func (TaskApproved) EventType() string { return TypeTaskApproved }

// TaskAutoApproved is a distinct variant from TaskApproved so the event
// type enumeration in the wire contract stays exhaustive and each
// variant's type is fixed at construction rather than branching on a flag.
type TaskAutoApproved struct {
	TaskID string `json:"task_id"`
}

func (TaskAutoApproved) EventType() string { return TypeTaskAutoApproved }

type TaskDisputed struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func (TaskDisputed) EventType() string { return TypeTaskDisputed }

type TaskRuled struct {
	TaskID    string `json:"task_id"`
	RulingID  string `json:"ruling_id"`
	WorkerPct int    `json:"worker_pct"`
}

func (TaskRuled) EventType() string { return TypeTaskRuled }

type FeedbackRevealed struct {
	TaskID     string `json:"task_id"`
	FeedbackID string `json:"feedback_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Category   string `json:"category"`
}

func (FeedbackRevealed) EventType() string { return TypeFeedbackRevealed }

type ClaimFiled struct {
	ClaimID    string `json:"claim_id"`
	TaskID     string `json:"task_id"`
	Claimant   string `json:"claimant"`
	Respondent string `json:"respondent"`
}

func (ClaimFiled) EventType() string { return TypeClaimFiled }

type RebuttalSubmitted struct {
	ClaimID string `json:"claim_id"`
	TaskID  string `json:"task_id"`
}

func (RebuttalSubmitted) EventType() string { return TypeRebuttalSubmitted }

type RulingDelivered struct {
	ClaimID   string `json:"claim_id"`
	TaskID    string `json:"task_id"`
	RulingID  string `json:"ruling_id"`
	WorkerPct int    `json:"worker_pct"`
}

func (RulingDelivered) EventType() string { return TypeRulingDelivered }

type InvariantViolation struct {
	Component string `json:"component"`
	Detail    string `json:"detail"`
}

func (InvariantViolation) EventType() string { return TypeInvariantViolation }
