package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs registry transactions as the marketplace operator.
type TxSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewTxSigner returns a signer for chainID using the latest signing rules the
// chain supports.
func NewTxSigner(key *ecdsa.PrivateKey, chainID int64) (*TxSigner, error) {
	if key == nil {
		return nil, errors.New("crypto/signer: nil key")
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid chain id %d", chainID)
	}
	return &TxSigner{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(big.NewInt(chainID)),
	}, nil
}

// Address is the operator account.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// SignTx signs tx with the operator key.
func (s *TxSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// Sender recovers the account that signed tx.
func (s *TxSigner) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(s.signer, tx)
}
