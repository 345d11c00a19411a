package rail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-backend/internal/apperrors"
	"escrow-backend/internal/clients"
	"escrow-backend/internal/config"
	"escrow-backend/internal/models"
	"escrow-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const tokenRailName = "token"

// TokenRail settles escrows on the external token ledger. Deposits move
// funds from the depositor into a custodial escrow address; release and
// refund move them out again using the escrow credential. The ledger itself
// has no escrow concept, so the rail keeps its own durable record per task
// (token_rail_escrows) and treats that record as rail-side truth.
type TokenRail struct {
	ledger  ledgerAPI
	records repository.TokenRailEscrowRepository
	cfg     *config.TokenRailConfig
	log     *logrus.Entry
}

// ledgerAPI is the slice of the ledger client the rail uses.
type ledgerAPI interface {
	Transfer(ctx context.Context, req *clients.TransferRequest) (*clients.TransferResponse, error)
	GetTicketStatus(ctx context.Context, ticketID string) (*clients.TicketStatus, error)
	GetBalance(ctx context.Context, address string) (*clients.BalanceResponse, error)
	Ping(ctx context.Context) error
}

// NewTokenRail builds the token rail adapter.
func NewTokenRail(ledger ledgerAPI, records repository.TokenRailEscrowRepository, cfg *config.TokenRailConfig) *TokenRail {
	return &TokenRail{
		ledger:  ledger,
		records: records,
		cfg:     cfg,
		log:     logrus.WithField("rail", tokenRailName),
	}
}

func (t *TokenRail) Name() string { return tokenRailName }

// Deposit broadcasts a transfer from the depositor's credential to the
// custodial escrow address and waits for the ticket to resolve to a final
// transaction id. No rail record is written until the transfer is durable.
func (t *TokenRail) Deposit(ctx context.Context, taskID string, amount int64, proof DepositProof) (string, error) {
	ledgerProof, ok := proof.(LedgerProof)
	if !ok {
		return "", apperrors.NewValidationError("token rail deposits require a ledger signing credential")
	}
	if ledgerProof.SigningCredential == "" {
		return "", apperrors.NewValidationError("signing credential is empty")
	}

	existing, err := t.loadRecord(ctx, taskID)
	if err == nil && existing != nil {
		// Deposit already landed for this task.
		re := apperrors.NewRailError(tokenRailName, apperrors.RailAlreadyFinalized, nil)
		re.TxID = existing.DepositTxID
		re.Phase = existing.Phase
		return existing.DepositTxID, re
	}

	resp, err := t.ledger.Transfer(ctx, &clients.TransferRequest{
		SigningCredential: ledgerProof.SigningCredential,
		Outputs: []clients.TransferOutput{
			{Address: t.cfg.EscrowAddress, Amount: amount},
		},
	})
	if err != nil {
		return "", t.classify(err)
	}

	status, err := t.resolveTicket(ctx, resp.TicketID)
	if err != nil {
		return "", err
	}

	record := &models.TokenRailEscrow{
		ID:               uuid.New().String(),
		TaskID:           taskID,
		DepositorAddress: resp.SenderAddress,
		Amount:           amount,
		Phase:            string(PhaseLocked),
		DepositTxID:      status.TxID,
	}
	if err := t.records.Create(ctx, record); err != nil {
		return "", apperrors.NewFatalError("deposit landed on ledger but rail record write failed", err)
	}

	t.log.WithFields(logrus.Fields{
		"task_id": taskID,
		"amount":  amount,
		"tx_id":   status.TxID,
	}).Info("escrow deposit locked on token ledger")
	return status.TxID, nil
}

// Release transfers the locked amount from the escrow credential to the
// recipient.
func (t *TokenRail) Release(ctx context.Context, taskID string, recipient string) (string, error) {
	if recipient == "" {
		return "", apperrors.NewRailError(tokenRailName, apperrors.RailInvalidRecipient,
			errors.New("empty recipient address"))
	}
	return t.settle(ctx, taskID, PhaseReleased, recipient)
}

// Refund transfers the locked amount back to the depositor address recorded
// at deposit time.
func (t *TokenRail) Refund(ctx context.Context, taskID string) (string, error) {
	return t.settle(ctx, taskID, PhaseRefunded, "")
}

// settle performs the outbound half of the escrow: a transfer from the
// custodial credential to either the recipient (release) or the recorded
// depositor (refund), finalizing the rail record on success.
func (t *TokenRail) settle(ctx context.Context, taskID string, target EscrowPhase, recipient string) (string, error) {
	record, err := t.loadRecord(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable,
				fmt.Errorf("no rail record for task %s", taskID))
		}
		return "", apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable, err)
	}

	if record.Phase != string(PhaseLocked) {
		re := apperrors.NewRailError(tokenRailName, apperrors.RailAlreadyFinalized, nil)
		re.TxID = record.SettleTxID
		re.Phase = record.Phase
		return record.SettleTxID, re
	}

	// A previous attempt may have broadcast and then lost the ticket
	// resolution to a timeout. Reconcile that ticket before sending again.
	if record.SettleTicketID != "" {
		txID, landed := t.reconcileTicket(ctx, record, target)
		if landed {
			if record.Phase == string(target) {
				return txID, nil
			}
			// The pending ticket belonged to the other settlement
			// operation; funds went where that broadcast sent them.
			re := apperrors.NewRailError(tokenRailName, apperrors.RailAlreadyFinalized, nil)
			re.TxID = txID
			re.Phase = record.Phase
			return txID, re
		}
		if record.SettleTicketID != "" {
			// Ticket still pending or unreadable. A fresh transfer now
			// could pay the escrow out twice.
			return "", apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable,
				fmt.Errorf("settle ticket %s for task %s is unresolved", record.SettleTicketID, taskID))
		}
	}

	destination := recipient
	if target == PhaseRefunded {
		destination = record.DepositorAddress
	}

	resp, err := t.ledger.Transfer(ctx, &clients.TransferRequest{
		SigningCredential: t.cfg.EscrowCredential,
		Outputs: []clients.TransferOutput{
			{Address: destination, Amount: record.Amount},
		},
	})
	if err != nil {
		return "", t.classify(err)
	}

	// Persist the ticket and its target phase before waiting so a crash
	// mid-resolution is recoverable on the next attempt.
	record.SettleTicketID = resp.TicketID
	record.SettlePhase = string(target)
	if err := t.records.Save(ctx, record); err != nil {
		return "", apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable, err)
	}

	status, err := t.resolveTicket(ctx, resp.TicketID)
	if err != nil {
		return "", err
	}

	record.Phase = string(target)
	record.SettleTxID = status.TxID
	if err := t.records.Save(ctx, record); err != nil {
		return "", apperrors.NewFatalError("settlement landed on ledger but rail record write failed", err)
	}

	t.log.WithFields(logrus.Fields{
		"task_id": taskID,
		"phase":   target,
		"tx_id":   status.TxID,
	}).Info("escrow settled on token ledger")
	return status.TxID, nil
}

// reconcileTicket re-polls a previously recorded ticket. When the earlier
// transfer landed it finalizes the rail record to the phase that broadcast
// the ticket and returns the tx id with true.
func (t *TokenRail) reconcileTicket(ctx context.Context, record *models.TokenRailEscrow, requested EscrowPhase) (string, bool) {
	status, err := t.ledger.GetTicketStatus(ctx, record.SettleTicketID)
	if err != nil {
		return "", false
	}
	switch status.Status {
	case clients.TicketStatusSuccess, clients.TicketStatusMined:
		phase := record.SettlePhase
		if phase == "" {
			// Records written before the target phase was tracked can only
			// have come from the requested operation.
			phase = string(requested)
		}
		record.Phase = phase
		record.SettleTxID = status.TxID
		if err := t.records.Save(ctx, record); err != nil {
			t.log.WithFields(logrus.Fields{
				"task_id": record.TaskID,
				"tx_id":   status.TxID,
			}).WithError(err).Error("reconciled settlement landed but rail record update failed")
		}
		return status.TxID, true
	case clients.TicketStatusFailed:
		// Earlier broadcast definitively failed; clear it so a fresh
		// transfer can be sent.
		record.SettleTicketID = ""
		record.SettlePhase = ""
		if err := t.records.Save(ctx, record); err != nil {
			t.log.WithField("task_id", record.TaskID).WithError(err).Warn("failed to clear dead settle ticket")
		}
		return "", false
	default:
		return "", false
	}
}

// resolveTicket polls the ledger until the ticket reaches a final state or
// the wait budget runs out.
func (t *TokenRail) resolveTicket(ctx context.Context, ticketID string) (*clients.TicketStatus, error) {
	poll := time.Duration(t.cfg.TicketPollMillis) * time.Millisecond
	if poll <= 0 {
		poll = 2 * time.Second
	}
	wait := time.Duration(t.cfg.TicketWaitSecs) * time.Second
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	deadline := time.Now().Add(wait)

	for {
		status, err := t.ledger.GetTicketStatus(ctx, ticketID)
		if err == nil {
			switch status.Status {
			case clients.TicketStatusSuccess, clients.TicketStatusMined:
				if status.TxID == "" {
					return nil, apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable,
						fmt.Errorf("ticket %s resolved without tx id", ticketID))
				}
				return status, nil
			case clients.TicketStatusFailed:
				return nil, t.classifyTicketFailure(status)
			}
		}

		if time.Now().After(deadline) {
			return nil, apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable,
				fmt.Errorf("ticket %s not resolved within %s", ticketID, wait))
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// GetEscrowState reports the rail's durable record for the task.
func (t *TokenRail) GetEscrowState(ctx context.Context, taskID string) (*EscrowState, error) {
	record, err := t.loadRecord(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &EscrowState{Exists: false, Phase: PhaseUnknown}, nil
		}
		return nil, apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable, err)
	}
	return &EscrowState{
		Exists:    true,
		Depositor: record.DepositorAddress,
		Amount:    record.Amount,
		Phase:     EscrowPhase(record.Phase),
	}, nil
}

// Ready checks the ledger service and, when an escrow address is
// configured, that its balance is readable.
func (t *TokenRail) Ready(ctx context.Context) error {
	if err := t.ledger.Ping(ctx); err != nil {
		return err
	}
	if t.cfg.EscrowAddress != "" {
		if _, err := t.ledger.GetBalance(ctx, t.cfg.EscrowAddress); err != nil {
			return fmt.Errorf("escrow balance unreadable: %w", err)
		}
	}
	return nil
}

func (t *TokenRail) loadRecord(ctx context.Context, taskID string) (*models.TokenRailEscrow, error) {
	return t.records.GetByTaskID(ctx, taskID)
}

// classify maps ledger client errors onto the rail taxonomy.
func (t *TokenRail) classify(err error) error {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case strings.Contains(msg, "insufficient"):
			return apperrors.NewRailError(tokenRailName, apperrors.RailInsufficientFunds, err)
		case strings.Contains(msg, "invalid address"), strings.Contains(msg, "bad address"):
			return apperrors.NewRailError(tokenRailName, apperrors.RailInvalidRecipient, err)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return apperrors.NewRailError(tokenRailName, apperrors.RailInvalidRecipient, err)
		}
	}
	return apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable, err)
}

func (t *TokenRail) classifyTicketFailure(status *clients.TicketStatus) error {
	msg := strings.ToLower(status.Errors)
	cause := fmt.Errorf("ticket %s failed: %s", status.TicketID, status.Errors)
	switch {
	case strings.Contains(msg, "insufficient"):
		return apperrors.NewRailError(tokenRailName, apperrors.RailInsufficientFunds, cause)
	case strings.Contains(msg, "invalid address"):
		return apperrors.NewRailError(tokenRailName, apperrors.RailInvalidRecipient, cause)
	default:
		return apperrors.NewRailError(tokenRailName, apperrors.RailUnavailable, cause)
	}
}
