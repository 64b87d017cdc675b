package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrWalletDeclined is returned by a Wallet when the owner refuses to
// sign. It is user intent, not a system fault, and is never retried.
var ErrWalletDeclined = errors.New("wallet: signing declined")

// Wallet supplies the signing identity. It may reject, hang until its
// context is cancelled, or succeed; the facade treats it as opaque.
type Wallet interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeyWallet signs with an in-process secp256k1 key. It never declines.
type KeyWallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeyWallet builds a wallet from a hex-encoded private key.
func NewKeyWallet(hexKey string) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyWallet{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (w *KeyWallet) Address() common.Address {
	return w.addr
}

func (w *KeyWallet) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}
