package x402

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrMalformedSignature is returned for signatures that are not a 65-byte
// r||s||v tuple, or whose recovery id is out of range.
var ErrMalformedSignature = errors.New("x402: malformed signature")

// normalizeSig copies the signature and maps v from 27/28 to 0/1, the form
// secp256k1 recovery expects.
func normalizeSig(sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}
	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	if s[64] > 1 {
		return nil, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, sig[64])
	}
	return s, nil
}

// RecoverPersonalSign recovers the signer of an EIP-191 personal_sign
// message. Malformed input yields ErrMalformedSignature, never a panic.
func RecoverPersonalSign(message, sig []byte) (common.Address, error) {
	s, err := normalizeSig(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverTypedData recovers the signer of an EIP-712 typed-data signature.
func RecoverTypedData(typed apitypes.TypedData, sig []byte) (common.Address, error) {
	s, err := normalizeSig(sig)
	if err != nil {
		return common.Address{}, err
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return common.Address{}, fmt.Errorf("x402: hash typed data: %w", err)
	}
	pub, err := crypto.SigToPub(hash, s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignPersonal produces an EIP-191 personal_sign signature with v in 27/28
// form, the encoding wallets emit.
func SignPersonal(message []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignTypedData produces an EIP-712 signature with v in 27/28 form.
func SignTypedData(typed apitypes.TypedData, key *ecdsa.PrivateKey) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("x402: hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
