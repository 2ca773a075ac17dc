package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainBackend is the subset of *ethclient.Client the EVM registry needs.
type ChainBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner signs transactions as the marketplace operator.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// EVMConfig configures an ERC-721 registry.
type EVMConfig struct {
	Contract       common.Address
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// EVM is a registry backed by an ERC-721 contract. The operator account must
// be approved for the owners' tokens for Transfer to succeed.
type EVM struct {
	backend ChainBackend
	signer  TxSigner
	abi     abi.ABI
	cfg     EVMConfig
	logger  *slog.Logger
}

// NewEVM creates an EVM registry. signer may be nil for a read-only registry.
func NewEVM(backend ChainBackend, signer TxSigner, cfg EVMConfig, logger *slog.Logger) (*EVM, error) {
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("registry/evm: parse abi: %w", err)
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &EVM{
		backend: backend,
		signer:  signer,
		abi:     parsed,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "registry_evm")),
	}, nil
}

func (e *EVM) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("registry/evm: pack %s: %w", method, err)
	}
	to := e.cfg.Contract
	raw, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := e.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("registry/evm: unpack %s: %w", method, err)
	}
	return out, nil
}

// isRevert reports whether err is an execution revert rather than a transport
// failure. ownerOf reverts for tokens that were never minted.
func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "revert")
}

func tokenID(id domain.AssetID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

func (e *EVM) ownerOf(ctx context.Context, id domain.AssetID) (common.Address, error) {
	out, err := e.call(ctx, "ownerOf", tokenID(id))
	if isRevert(err) {
		return common.Address{}, domain.ErrNotFound
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("registry/evm: ownerOf %s: %w", id, err)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("registry/evm: ownerOf %s: unexpected type %T", id, out[0])
	}
	return owner, nil
}

// Lookup reads ownerOf and tokenURI. The token URI stands in for the name.
func (e *EVM) Lookup(ctx context.Context, id domain.AssetID) (domain.Asset, error) {
	owner, err := e.ownerOf(ctx, id)
	if err != nil {
		return domain.Asset{}, err
	}

	asset := domain.Asset{ID: id, Owner: owner, Exists: true}
	out, err := e.call(ctx, "tokenURI", tokenID(id))
	if err != nil {
		e.logger.WarnContext(ctx, "registry/evm: tokenURI unavailable",
			slog.Uint64("asset_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		return asset, nil
	}
	if name, ok := out[0].(string); ok {
		asset.Name = name
	}
	return asset, nil
}

// ListOwned enumerates balanceOf(owner) entries via tokenOfOwnerByIndex.
func (e *EVM) ListOwned(ctx context.Context, owner common.Address) ([]domain.AssetID, error) {
	out, err := e.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("registry/evm: balanceOf: %w", err)
	}
	count, ok := out[0].(*big.Int)
	if !ok || !count.IsInt64() {
		return nil, fmt.Errorf("registry/evm: balanceOf: unexpected value %v", out[0])
	}

	ids := make([]domain.AssetID, 0, count.Int64())
	for i := int64(0); i < count.Int64(); i++ {
		res, err := e.call(ctx, "tokenOfOwnerByIndex", owner, big.NewInt(i))
		if err != nil {
			return nil, fmt.Errorf("registry/evm: tokenOfOwnerByIndex %d: %w", i, err)
		}
		tok, ok := res[0].(*big.Int)
		if !ok || !tok.IsUint64() {
			return nil, fmt.Errorf("registry/evm: token id %v out of range", res[0])
		}
		ids = append(ids, domain.AssetID(tok.Uint64()))
	}
	return ids, nil
}

// Transfer sends safeTransferFrom(currentOwner, to, id) from the operator and
// waits for the receipt. A reverted transaction is an error.
func (e *EVM) Transfer(ctx context.Context, id domain.AssetID, to common.Address) error {
	if e.signer == nil {
		return errors.New("registry/evm: no operator key configured")
	}
	from, err := e.ownerOf(ctx, id)
	if err != nil {
		return err
	}

	data, err := e.abi.Pack("safeTransferFrom", from, to, tokenID(id))
	if err != nil {
		return fmt.Errorf("registry/evm: pack safeTransferFrom: %w", err)
	}

	operator := e.signer.Address()
	contract := e.cfg.Contract
	nonce, err := e.backend.PendingNonceAt(ctx, operator)
	if err != nil {
		return fmt.Errorf("registry/evm: nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("registry/evm: gas price: %w", err)
	}
	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: operator, To: &contract, Data: data})
	if err != nil {
		return fmt.Errorf("registry/evm: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := e.signer.SignTx(tx)
	if err != nil {
		return fmt.Errorf("registry/evm: sign: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("registry/evm: send: %w", err)
	}

	e.logger.InfoContext(ctx, "registry/evm: transfer submitted",
		slog.Uint64("asset_id", uint64(id)),
		slog.String("tx", signed.Hash().Hex()),
	)

	receipt, err := e.waitMined(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("registry/evm: transfer %s reverted in tx %s", id, signed.Hash().Hex())
	}
	return nil
}

func (e *EVM) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("registry/evm: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("registry/evm: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.Registry = (*EVM)(nil)
