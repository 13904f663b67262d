package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const receiptPollInterval = time.Second

// IssuerRole is the contract role allowed to issue and update certificates.
var IssuerRole = [32]byte(crypto.Keccak256Hash([]byte("ISSUER_ROLE")))

const registryABI = `[
  {"type":"function","name":"verifyCertificateById","stateMutability":"view",
   "inputs":[{"name":"id","type":"string"}],
   "outputs":[{"name":"valid","type":"bool"},{"name":"issuerId","type":"string"},{"name":"course","type":"string"},{"name":"expiresAt","type":"uint256"}]},
  {"type":"function","name":"getCertificateStatus","stateMutability":"view",
   "inputs":[{"name":"id","type":"string"}],
   "outputs":[{"name":"status","type":"uint8"}]},
  {"type":"function","name":"verifyBatchCertification","stateMutability":"view",
   "inputs":[{"name":"batchIndex","type":"uint256"},{"name":"leaf","type":"bytes32"},{"name":"proof","type":"bytes32[]"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"verifyCertificateInBatch","stateMutability":"view",
   "inputs":[{"name":"encodedProof","type":"bytes32"}],
   "outputs":[{"name":"status","type":"uint8"}]},
  {"type":"function","name":"issueCertificate","stateMutability":"nonpayable",
   "inputs":[{"name":"id","type":"string"},{"name":"certHash","type":"bytes32"},{"name":"expiresAt","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"issueBatch","stateMutability":"nonpayable",
   "inputs":[{"name":"root","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"updateCertificateStatus","stateMutability":"nonpayable",
   "inputs":[{"name":"id","type":"string"},{"name":"status","type":"uint8"}],
   "outputs":[]},
  {"type":"function","name":"updateBatchCertificateStatus","stateMutability":"nonpayable",
   "inputs":[{"name":"encodedProof","type":"bytes32"},{"name":"status","type":"uint8"}],
   "outputs":[]},
  {"type":"function","name":"grantRole","stateMutability":"nonpayable",
   "inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],
   "outputs":[]},
  {"type":"event","name":"BatchIssued","anonymous":false,
   "inputs":[{"name":"batchIndex","type":"uint256","indexed":false},{"name":"root","type":"bytes32","indexed":false}]}
]`

type EthConfig struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	PrivateKey      string
}

// EthContract binds the registry contract deployed on an EVM chain.
type EthContract struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

func DialEth(ctx context.Context, cfg EthConfig) (*EthContract, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}

	c := &EthContract{
		client:   client,
		contract: bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client),
		abi:      parsed,
		chainID:  big.NewInt(cfg.ChainID),
	}

	if key := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); key != "" {
		c.key, err = crypto.HexToECDSA(key)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to parse ledger private key: %w", err)
		}
	}

	return c, nil
}

func (c *EthContract) Close() {
	c.client.Close()
}

// Ping checks that the RPC endpoint answers.
func (c *EthContract) Ping(ctx context.Context) error {
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("ledger rpc ping failed: %w", err)
	}
	return nil
}

func (c *EthContract) VerifyCertificateByID(ctx context.Context, id string) (CertificateInfo, error) {
	out, err := c.call(ctx, "verifyCertificateById", id)
	if err != nil {
		return CertificateInfo{}, err
	}
	return CertificateInfo{
		Valid:     *abi.ConvertType(out[0], new(bool)).(*bool),
		IssuerID:  *abi.ConvertType(out[1], new(string)).(*string),
		Course:    *abi.ConvertType(out[2], new(string)).(*string),
		ExpiresAt: abi.ConvertType(out[3], new(big.Int)).(*big.Int).Uint64(),
	}, nil
}

func (c *EthContract) GetCertificateStatus(ctx context.Context, id string) (StatusCode, error) {
	out, err := c.call(ctx, "getCertificateStatus", id)
	if err != nil {
		return StatusUnknown, err
	}
	return StatusCode(*abi.ConvertType(out[0], new(uint8)).(*uint8)), nil
}

func (c *EthContract) VerifyBatchCertification(ctx context.Context, batchIndex uint64, leaf [32]byte, proof [][32]byte) (bool, error) {
	out, err := c.call(ctx, "verifyBatchCertification", new(big.Int).SetUint64(batchIndex), leaf, proof)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *EthContract) VerifyCertificateInBatch(ctx context.Context, encodedProof [32]byte) (StatusCode, error) {
	out, err := c.call(ctx, "verifyCertificateInBatch", encodedProof)
	if err != nil {
		return StatusUnknown, err
	}
	return StatusCode(*abi.ConvertType(out[0], new(uint8)).(*uint8)), nil
}

func (c *EthContract) IssueCertificate(ctx context.Context, id string, certHash [32]byte, expiresAt uint64) (string, error) {
	return c.send(ctx, "issueCertificate", id, certHash, new(big.Int).SetUint64(expiresAt))
}

func (c *EthContract) IssueBatch(ctx context.Context, root [32]byte) (string, error) {
	return c.send(ctx, "issueBatch", root)
}

func (c *EthContract) UpdateCertificateStatus(ctx context.Context, id string, status StatusCode) (string, error) {
	return c.send(ctx, "updateCertificateStatus", id, uint8(status))
}

func (c *EthContract) UpdateBatchCertificateStatus(ctx context.Context, encodedProof [32]byte, status StatusCode) (string, error) {
	return c.send(ctx, "updateBatchCertificateStatus", encodedProof, uint8(status))
}

func (c *EthContract) GrantRole(ctx context.Context, role [32]byte, account common.Address) (string, error) {
	return c.send(ctx, "grantRole", role, account)
}

// WaitMined polls for the receipt of txHash until it is mined or ctx ends.
func (c *EthContract) WaitMined(ctx context.Context, txHash string) (MinedTx, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return c.mined(receipt)
		}
		if !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return MinedTx{}, fmt.Errorf("%w (last receipt error: %v)", ctx.Err(), lastErr)
			}
			return MinedTx{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *EthContract) mined(receipt *types.Receipt) (MinedTx, error) {
	txHash := receipt.TxHash.Hex()
	if receipt.Status == types.ReceiptStatusFailed {
		return MinedTx{}, &BusinessError{Op: "wait_mined", Reason: "execution reverted in tx " + txHash}
	}

	mined := MinedTx{TxHash: txHash}
	event := c.abi.Events["BatchIssued"]
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 || log.Topics[0] != event.ID {
			continue
		}
		var issued struct {
			BatchIndex *big.Int
			Root       [32]byte
		}
		if err := c.contract.UnpackLog(&issued, "BatchIssued", *log); err != nil {
			return MinedTx{}, &BusinessError{Op: "wait_mined", Reason: "failed to decode BatchIssued event", Cause: err}
		}
		mined.BatchIndex = issued.BatchIndex.Uint64()
		mined.BatchIssued = true
		break
	}
	return mined, nil
}

func (c *EthContract) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, err
	}
	return out, nil
}

// send estimates, signs and broadcasts a transaction. Failures before the broadcast come back
// unchanged so they may be retried. A broadcast that may have reached the node becomes a
// *PendingError carrying the signed hash.
func (c *EthContract) send(ctx context.Context, method string, params ...interface{}) (string, error) {
	if c.key == nil {
		return "", &BusinessError{Op: method, Reason: "no signing key configured"}
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return "", &BusinessError{Op: method, Reason: "failed to build transactor", Cause: err}
	}
	opts.Context = ctx
	opts.NoSend = true

	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		return "", err
	}

	if err := c.client.SendTransaction(ctx, tx); err != nil {
		if broadcastRejected(err) {
			return "", err
		}
		return "", &PendingError{Op: method, TxHash: tx.Hash().Hex(), Cause: err}
	}
	return tx.Hash().Hex(), nil
}

// broadcastRejected reports whether a SendTransaction failure proves the node did not accept
// the transaction.
func broadcastRejected(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return !strings.Contains(strings.ToLower(rpcErr.Error()), "already known")
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
