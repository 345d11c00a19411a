package rail

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"escrow-backend/internal/apperrors"
	"escrow-backend/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const contractRailName = "contract"

const escrowContractABI = `[
	{
		"inputs": [
			{"name": "taskId", "type": "string"},
			{"name": "recipient", "type": "address"}
		],
		"name": "release",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "taskId", "type": "string"}
		],
		"name": "refund",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "taskId", "type": "string"}
		],
		"name": "getEscrow",
		"outputs": [
			{"name": "depositor", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "paymentType", "type": "uint8"},
			{"name": "status", "type": "uint8"},
			{"name": "exists", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Contract-side escrow status values.
const (
	contractStatusLocked   = 0
	contractStatusReleased = 1
	contractStatusRefunded = 2
)

// ContractRail settles escrows through the on-chain escrow contract.
// Deposits happen client-side (the depositor calls the contract directly),
// so Deposit only records the confirmed transaction hash. Release and
// refund are admin transactions signed with the operator key and waited on
// for one confirmation.
type ContractRail struct {
	client       *ethclient.Client
	contractABI  abi.ABI
	contractAddr common.Address
	privateKey   *ecdsa.PrivateKey
	adminAddr    common.Address
	chainID      *big.Int
	cfg          *config.ContractRailConfig
	log          *logrus.Entry
}

// NewContractRail connects to the first reachable RPC endpoint and prepares
// the signing key.
func NewContractRail(cfg *config.ContractRailConfig) (*ContractRail, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow contract ABI: %w", err)
	}

	var client *ethclient.Client
	var lastErr error
	for _, endpoint := range cfg.RPCEndpoints {
		client, lastErr = ethclient.Dial(endpoint)
		if lastErr != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, lastErr = client.ChainID(ctx)
		cancel()
		if lastErr == nil {
			break
		}
		client.Close()
		client = nil
	}
	if client == nil {
		return nil, fmt.Errorf("failed to connect to any RPC endpoint: %w", lastErr)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("invalid admin private key: %w", err)
	}

	return &ContractRail{
		client:       client,
		contractABI:  parsed,
		contractAddr: common.HexToAddress(cfg.EscrowContract),
		privateKey:   privateKey,
		adminAddr:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:      big.NewInt(cfg.ChainID),
		cfg:          cfg,
		log:          logrus.WithField("rail", contractRailName),
	}, nil
}

func (c *ContractRail) Name() string { return contractRailName }

// Close releases the RPC connection.
func (c *ContractRail) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Deposit records an already-confirmed on-chain deposit. The depositor sent
// the transaction themselves, so no new chain call is made here.
func (c *ContractRail) Deposit(ctx context.Context, taskID string, amount int64, proof DepositProof) (string, error) {
	onChain, ok := proof.(OnChainProof)
	if !ok {
		return "", apperrors.NewValidationError("contract rail deposits require an on-chain transaction hash")
	}
	if onChain.TxHash == "" {
		return "", apperrors.NewValidationError("transaction hash is empty")
	}
	return onChain.TxHash, nil
}

// Release calls the contract's release entry point and waits for one
// confirmation.
func (c *ContractRail) Release(ctx context.Context, taskID string, recipient string) (string, error) {
	if !common.IsHexAddress(recipient) {
		return "", apperrors.NewRailError(contractRailName, apperrors.RailInvalidRecipient,
			fmt.Errorf("not a valid address: %s", recipient))
	}

	callData, err := c.contractABI.Pack("release", taskID, common.HexToAddress(recipient))
	if err != nil {
		return "", apperrors.NewFatalError("failed to pack release call", err)
	}
	return c.sendAndConfirm(ctx, taskID, "release", callData)
}

// Refund calls the contract's refund entry point and waits for one
// confirmation. The contract itself returns funds to the recorded depositor.
func (c *ContractRail) Refund(ctx context.Context, taskID string) (string, error) {
	callData, err := c.contractABI.Pack("refund", taskID)
	if err != nil {
		return "", apperrors.NewFatalError("failed to pack refund call", err)
	}
	return c.sendAndConfirm(ctx, taskID, "refund", callData)
}

// sendAndConfirm signs and broadcasts an admin transaction, waits for one
// confirmation, and reconciles through getEscrow when the outcome is
// ambiguous.
func (c *ContractRail) sendAndConfirm(ctx context.Context, taskID, method string, callData []byte) (string, error) {
	// Check contract state first so an already-settled escrow short-circuits
	// into AlreadyFinalized instead of a guaranteed revert.
	state, stateErr := c.GetEscrowState(ctx, taskID)
	if stateErr == nil && state.Exists && state.Phase != PhaseLocked {
		re := apperrors.NewRailError(contractRailName, apperrors.RailAlreadyFinalized, nil)
		re.Phase = string(state.Phase)
		return "", re
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.adminAddr)
	if err != nil {
		return "", apperrors.NewRailError(contractRailName, apperrors.RailUnavailable, err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", apperrors.NewRailError(contractRailName, apperrors.RailUnavailable, err)
	}

	gasLimit := c.cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 300000
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contractAddr,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", apperrors.NewFatalError("failed to sign transaction", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", c.classifySendError(ctx, taskID, method, err)
	}

	txHash := signedTx.Hash()
	c.log.WithFields(logrus.Fields{
		"task_id": taskID,
		"method":  method,
		"tx_hash": txHash.Hex(),
	}).Info("settlement transaction broadcast")

	confirmTimeout := time.Duration(c.cfg.ConfirmTimeout) * time.Second
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.client, signedTx)
	if err != nil {
		// The transaction may still have mined. Check contract state before
		// reporting failure so the orchestrator never double-settles.
		return "", c.reconcileAmbiguous(ctx, taskID, method, txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		// A revert after broadcast usually means another settlement won.
		return "", c.reconcileAmbiguous(ctx, taskID, method, txHash.Hex(),
			fmt.Errorf("transaction reverted: %s", txHash.Hex()))
	}

	c.log.WithFields(logrus.Fields{
		"task_id": taskID,
		"method":  method,
		"tx_hash": txHash.Hex(),
		"block":   receipt.BlockNumber.Uint64(),
	}).Info("settlement confirmed")
	return txHash.Hex(), nil
}

// reconcileAmbiguous re-queries contract state after an ambiguous broadcast
// outcome. A settled escrow means the transfer landed despite the error.
func (c *ContractRail) reconcileAmbiguous(ctx context.Context, taskID, method, txHash string, cause error) error {
	state, err := c.GetEscrowState(ctx, taskID)
	if err == nil && state.Exists && state.Phase != PhaseLocked {
		re := apperrors.NewRailError(contractRailName, apperrors.RailAlreadyFinalized, cause)
		re.TxID = txHash
		re.Phase = string(state.Phase)
		return re
	}
	c.log.WithFields(logrus.Fields{
		"task_id": taskID,
		"method":  method,
		"error":   cause.Error(),
	}).Warn("settlement outcome ambiguous, escrow still locked on chain")
	return apperrors.NewRailError(contractRailName, apperrors.RailUnavailable, cause)
}

func (c *ContractRail) classifySendError(ctx context.Context, taskID, method string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return apperrors.NewRailError(contractRailName, apperrors.RailInsufficientFunds, err)
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "already known"):
		// A duplicate of an earlier broadcast; resolve through state.
		return c.reconcileAmbiguous(ctx, taskID, method, "", err)
	case strings.Contains(msg, "execution reverted"):
		return c.reconcileAmbiguous(ctx, taskID, method, "", err)
	default:
		return apperrors.NewRailError(contractRailName, apperrors.RailUnavailable, err)
	}
}

// GetEscrowState reads the escrow record straight from the contract.
func (c *ContractRail) GetEscrowState(ctx context.Context, taskID string) (*EscrowState, error) {
	callData, err := c.contractABI.Pack("getEscrow", taskID)
	if err != nil {
		return nil, apperrors.NewFatalError("failed to pack getEscrow call", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contractAddr,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, apperrors.NewRailError(contractRailName, apperrors.RailUnavailable, err)
	}

	outputs, err := c.contractABI.Unpack("getEscrow", result)
	if err != nil || len(outputs) != 5 {
		return nil, apperrors.NewRailError(contractRailName, apperrors.RailUnavailable,
			fmt.Errorf("failed to decode getEscrow result: %w", err))
	}

	depositor, _ := outputs[0].(common.Address)
	amount, _ := outputs[1].(*big.Int)
	status, _ := outputs[3].(uint8)
	exists, _ := outputs[4].(bool)

	if !exists {
		return &EscrowState{Exists: false, Phase: PhaseUnknown}, nil
	}

	phase := PhaseUnknown
	switch int(status) {
	case contractStatusLocked:
		phase = PhaseLocked
	case contractStatusReleased:
		phase = PhaseReleased
	case contractStatusRefunded:
		phase = PhaseRefunded
	}

	var amt int64
	if amount != nil {
		amt = amount.Int64()
	}
	return &EscrowState{
		Exists:    true,
		Depositor: depositor.Hex(),
		Amount:    amt,
		Phase:     phase,
	}, nil
}

// Ready checks the RPC connection.
func (c *ContractRail) Ready(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := c.client.BlockNumber(checkCtx); err != nil {
		return fmt.Errorf("rpc unreachable: %w", err)
	}
	return nil
}
