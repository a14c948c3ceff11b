package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
)

// opDoesNotExist is the Horizon result code for claiming a balance that is gone
const opDoesNotExist = "op_does_not_exist"

// StellarConfig contains Stellar network configuration
type StellarConfig struct {
	HorizonURL    string `json:"horizon_url"`
	Network       string `json:"network"` // "testnet" or "public"
	PoolSecretKey string `json:"pool_secret_key"`
	TxTimeoutSecs int64  `json:"tx_timeout_secs"`
}

// horizonAPI is the subset of horizonclient.Client the ledger needs
type horizonAPI interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	SubmitTransaction(transaction *txnbuild.Transaction) (hProtocol.Transaction, error)
}

// StellarLedger locks project funds as claimable balances owned by the pool
// account. Finishing claims the balance and pays the beneficiary in one
// transaction; cancelling claims it back into the pool.
type StellarLedger struct {
	horizon           horizonAPI
	pool              *keypair.Full
	networkPassphrase string
	txTimeout         int64
}

// NewStellarLedger creates a ledger bound to a Horizon server
func NewStellarLedger(cfg StellarConfig) (*StellarLedger, error) {
	client := horizonclient.DefaultTestNetClient
	if cfg.HorizonURL != "" {
		client = &horizonclient.Client{HorizonURL: cfg.HorizonURL, HTTP: http.DefaultClient}
	} else if cfg.Network == "public" {
		client = horizonclient.DefaultPublicNetClient
	}
	return newStellarLedger(client, cfg)
}

func newStellarLedger(client horizonAPI, cfg StellarConfig) (*StellarLedger, error) {
	pool, err := keypair.ParseFull(cfg.PoolSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool key pair: %w", err)
	}

	passphrase := network.TestNetworkPassphrase
	if cfg.Network == "public" {
		passphrase = network.PublicNetworkPassphrase
	}

	timeout := cfg.TxTimeoutSecs
	if timeout <= 0 {
		timeout = 300
	}

	return &StellarLedger{
		horizon:           client,
		pool:              pool,
		networkPassphrase: passphrase,
		txTimeout:         timeout,
	}, nil
}

// PoolAddress returns the account that owns every hold
func (s *StellarLedger) PoolAddress() string {
	return s.pool.Address()
}

func (s *StellarLedger) CreateHold(ctx context.Context, req HoldRequest) (Hold, error) {
	if req.Amount <= 0 {
		return Hold{}, fmt.Errorf("%w: hold amount must be positive", ErrUnavailable)
	}
	destination := req.Destination
	if destination == "" {
		destination = s.pool.Address()
	}
	if _, err := keypair.ParseAddress(destination); err != nil {
		return Hold{}, fmt.Errorf("%w: invalid destination: %v", ErrUnavailable, err)
	}

	ops := []txnbuild.Operation{
		&txnbuild.CreateClaimableBalance{
			Destinations: []txnbuild.Claimant{txnbuild.NewClaimant(s.pool.Address(), nil)},
			Asset:        txnbuild.NativeAsset{},
			Amount:       formatAmount(req.Amount),
		},
	}
	memo := txnbuild.MemoHash(sha256.Sum256([]byte(req.Reference)))

	tx, err := s.buildTransaction(ops, memo)
	if err != nil {
		return Hold{}, err
	}
	balanceID, err := tx.ClaimableBalanceID(0)
	if err != nil {
		return Hold{}, fmt.Errorf("failed to derive claimable balance id: %w", err)
	}

	resp, err := s.submit(ctx, tx)
	if err != nil {
		return Hold{}, classifySubmitError(err, ErrUnavailable)
	}

	return Hold{
		ID:          balanceID,
		CreateTx:    resp.Hash,
		Amount:      req.Amount,
		Destination: destination,
		FinishAfter: req.FinishAfter,
		CancelAfter: req.CancelAfter,
	}, nil
}

func (s *StellarLedger) FinishHold(ctx context.Context, hold Hold) (TxRef, error) {
	ops := []txnbuild.Operation{&txnbuild.ClaimClaimableBalance{BalanceID: hold.ID}}
	if hold.Destination != "" && hold.Destination != s.pool.Address() {
		ops = append(ops, &txnbuild.Payment{
			Destination: hold.Destination,
			Amount:      formatAmount(hold.Amount),
			Asset:       txnbuild.NativeAsset{},
		})
	}
	return s.settle(ctx, ops, ErrHoldSettled)
}

func (s *StellarLedger) CancelHold(ctx context.Context, hold Hold) (TxRef, error) {
	ops := []txnbuild.Operation{&txnbuild.ClaimClaimableBalance{BalanceID: hold.ID}}
	return s.settle(ctx, ops, ErrHoldSettled)
}

func (s *StellarLedger) settle(ctx context.Context, ops []txnbuild.Operation, gone error) (TxRef, error) {
	tx, err := s.buildTransaction(ops, nil)
	if err != nil {
		return TxRef{}, err
	}
	resp, err := s.submit(ctx, tx)
	if err != nil {
		return TxRef{}, classifySubmitError(err, gone)
	}
	return TxRef{Hash: resp.Hash, Ledger: int64(resp.Ledger), SettledAt: time.Now()}, nil
}

func (s *StellarLedger) buildTransaction(ops []txnbuild.Operation, memo txnbuild.Memo) (*txnbuild.Transaction, error) {
	account, err := s.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: s.pool.Address()})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get pool account: %v", ErrUnavailable, err)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              txnbuild.MinBaseFee,
		Memo:                 memo,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(s.txTimeout)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	tx, err = tx.Sign(s.networkPassphrase, s.pool)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

// submit runs the blocking Horizon call so ctx can abandon it
func (s *StellarLedger) submit(ctx context.Context, tx *txnbuild.Transaction) (hProtocol.Transaction, error) {
	type result struct {
		resp hProtocol.Transaction
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.horizon.SubmitTransaction(tx)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && !r.resp.Successful {
			return r.resp, fmt.Errorf("transaction %s failed", r.resp.Hash)
		}
		return r.resp, r.err
	case <-ctx.Done():
		return hProtocol.Transaction{}, ctx.Err()
	}
}

// classifySubmitError maps Horizon result codes onto ledger errors. gone is
// returned when the claimable balance no longer exists.
func classifySubmitError(err error, gone error) error {
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if herr := horizonclient.GetError(err); herr != nil {
		if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
			for _, code := range codes.OperationCodes {
				if code == opDoesNotExist {
					return gone
				}
			}
			return fmt.Errorf("%w: %s %v", ErrUnavailable, codes.TransactionCode, codes.OperationCodes)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}
