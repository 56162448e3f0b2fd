package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
)

var ledgerLog = logrus.WithField("component", "ledger")

// withdrawGasLimit is the gas budget assumed when checking that a wallet can pay for a withdrawal
const withdrawGasLimit = 500_000

var (
	// ErrReverted is reported when the withdrawal transaction was mined but failed
	ErrReverted = errors.New("transaction reverted")
	// ErrConfirmTimeout is reported when the transaction is not confirmed within Config.ConfirmTimeout
	ErrConfirmTimeout = errors.New("transaction not confirmed in time")
)

// ChainReader is the subset of ethclient.Client the ledger needs
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Bookkeeper records a broadcast withdrawal against the trace's donations off chain
type Bookkeeper interface {
	MarkPaying(ctx context.Context, traceID, txHash string) error
}

// Config holds the ledger settings
type Config struct {
	ExplorerTxURL string
	Confirmations uint64
	PollInterval  time.Duration

	// ConfirmTimeout bounds how long a broadcast transaction is followed
	ConfirmTimeout time.Duration
}

// Ledger broadcasts withdrawals through the relay and follows them on chain
type Ledger struct {
	chain      ChainReader
	relay      Relay
	bookkeeper Bookkeeper
	cfg        Config
}

// NewLedger creates a new Ledger instance
func NewLedger(chain ChainReader, relay Relay, bookkeeper Bookkeeper, cfg Config) *Ledger {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Minute
	}
	return &Ledger{
		chain:      chain,
		relay:      relay,
		bookkeeper: bookkeeper,
		cfg:        cfg,
	}
}

// Withdraw broadcasts the withdrawal and reports progress through callbacks
// Logic:
//  1. The relay builds and broadcasts the transaction and returns its hash
//  2. OnTxHash fires with the explorer URL
//  3. The donations are marked as paying off chain; a failure is reported as domain.ErrPersistence
//  4. The receipt is polled until it has enough confirmations or ConfirmTimeout passes
func (l *Ledger) Withdraw(ctx context.Context, req domain.LedgerRequest, callbacks domain.LedgerCallbacks) error {
	if req.Trace == nil {
		return errors.New("trace cannot be empty")
	}
	if !common.IsHexAddress(req.FromAddress) {
		return fmt.Errorf("invalid sender address %q", req.FromAddress)
	}

	order := WithdrawalOrder{
		TraceID:   req.Trace.ID,
		TraceKind: string(req.Trace.Kind),
		From:      common.HexToAddress(req.FromAddress).Hex(),
		Recipient: req.Trace.RecipientAddress,
	}
	if req.Trace.IsLP() {
		order.CampaignID = req.Trace.CampaignID
	}

	txHash, err := l.relay.Submit(ctx, order)
	if errors.Is(err, domain.ErrNoDonations) {
		reportError(callbacks, err, "")
		return nil
	}
	if err != nil {
		return err
	}

	hash := common.HexToHash(txHash)
	txURL := l.TxURL(hash)
	log := ledgerLog.WithFields(logrus.Fields{"trace": req.Trace.ID, "tx": hash.Hex()})
	log.Info("withdrawal broadcast")
	reportTxHash(callbacks, txURL)

	if l.bookkeeper != nil {
		if err := l.bookkeeper.MarkPaying(ctx, req.Trace.ID, hash.Hex()); err != nil {
			log.WithError(err).Error("failed to mark donations as paying")
			reportError(callbacks, fmt.Errorf("%w: %v", domain.ErrPersistence, err), txURL)
			return nil
		}
	}

	go l.watch(ctx, hash, txURL, callbacks)
	return nil
}

// watch polls the receipt until it is confirmed, reverted, timed out or ctx ends
func (l *Ledger) watch(ctx context.Context, hash common.Hash, txURL string, callbacks domain.LedgerCallbacks) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(l.cfg.ConfirmTimeout)
	defer deadline.Stop()

	for {
		done, err := l.poll(ctx, hash)
		switch {
		case err != nil:
			reportError(callbacks, err, txURL)
			return
		case done:
			reportConfirmation(callbacks, txURL)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			ledgerLog.WithField("tx", hash.Hex()).Warn("withdrawal not confirmed in time")
			reportError(callbacks, fmt.Errorf("%w after %s", ErrConfirmTimeout, l.cfg.ConfirmTimeout), txURL)
			return
		case <-ticker.C:
		}
	}
}

// poll reports whether the transaction is mined with enough confirmations
func (l *Ledger) poll(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := l.chain.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		ledgerLog.WithError(err).WithField("tx", hash.Hex()).Debug("receipt lookup failed, retrying")
		return false, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, ErrReverted
	}
	if receipt.BlockNumber == nil {
		return false, nil
	}

	head, err := l.chain.BlockNumber(ctx)
	if err != nil {
		return false, nil
	}
	mined := receipt.BlockNumber.Uint64()
	return head >= mined && head-mined+1 >= l.cfg.Confirmations, nil
}

// TxURL links a transaction hash to the block explorer
func (l *Ledger) TxURL(hash common.Hash) string {
	if l.cfg.ExplorerTxURL == "" {
		return hash.Hex()
	}
	return strings.TrimSuffix(l.cfg.ExplorerTxURL, "/") + "/" + hash.Hex()
}

// CheckBalance returns domain.ErrNoBalance when the address cannot pay for a withdrawal's gas
func (l *Ledger) CheckBalance(ctx context.Context, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}

	balance, err := l.chain.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	gasPrice, err := l.chain.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}

	required := new(big.Int).Mul(gasPrice, big.NewInt(withdrawGasLimit))
	if balance.Sign() == 0 || balance.Cmp(required) < 0 {
		return domain.ErrNoBalance
	}
	return nil
}

func reportTxHash(cb domain.LedgerCallbacks, txURL string) {
	if cb.OnTxHash != nil {
		cb.OnTxHash(txURL)
	}
}

func reportConfirmation(cb domain.LedgerCallbacks, txURL string) {
	if cb.OnConfirmation != nil {
		cb.OnConfirmation(txURL)
	}
}

func reportError(cb domain.LedgerCallbacks, err error, txURL string) {
	if cb.OnError != nil {
		cb.OnError(err, txURL)
	}
}
