package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the agent's secp256k1 key and signs vault transactions and
// relay authentication payloads.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner creates a Signer from a hex-encoded private key (with or without
// 0x prefix) and the target chain ID.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the agent address derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer targets.
func (s *Signer) ChainID() *big.Int {
	return s.chainID
}

// SignTx signs an EIP-1559 transaction for the signer's chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// RelayAuthHeader produces the "address:0x<sig>" value for the private
// relay's X-Flashbots-Signature header: the signature is over the keccak256
// hash of the request body, EIP-191 personal-message style.
func (s *Signer) RelayAuthHeader(body []byte) (string, error) {
	bodyHash := ethcrypto.Keccak256Hash(body)
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(bodyHash.Hex()), bodyHash.Hex())
	digest := ethcrypto.Keccak256([]byte(msg))

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign relay auth: %w", err)
	}
	// Shift the recovery byte to the Ethereum convention.
	sig[64] += 27

	return fmt.Sprintf("%s:0x%s", s.address.Hex(), hex.EncodeToString(sig)), nil
}
