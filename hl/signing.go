package hl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	agentDomainName    = "Exchange"
	agentDomainVersion = "1"
	agentChainID       = 1337
	zeroAddress        = "0x0000000000000000000000000000000000000000"
)

// Signature is the {r, s, v} triple the venue expects.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

// EncodeAction returns the canonical msgpack encoding of an action.
func EncodeAction(action Action) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, fmt.Errorf("encode %s action: %w", ActionType(action), err)
	}
	return buf.Bytes(), nil
}

// ActionHash binds an action to its nonce. No vault address is used.
func ActionHash(action Action, nonce int64) ([]byte, error) {
	data, err := EncodeAction(action)
	if err != nil {
		return nil, err
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(nonce))
	data = append(data, n[:]...)
	data = append(data, 0x00)
	return crypto.Keccak256(data), nil
}

func networkSource(mainnet bool) string {
	if mainnet {
		return "a"
	}
	return "b"
}

func agentTypedData(connectionID []byte, mainnet bool) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              agentDomainName,
			Version:           agentDomainVersion,
			ChainId:           math.NewHexOrDecimal256(agentChainID),
			VerifyingContract: zeroAddress,
		},
		Message: apitypes.TypedDataMessage{
			"source":       networkSource(mainnet),
			"connectionId": connectionID,
		},
	}
}

// ActionDigest is the 32 byte hash a wallet signs to authorise action at
// nonce on the selected network.
func ActionDigest(action Action, nonce int64, mainnet bool) ([]byte, error) {
	connectionID, err := ActionHash(action, nonce)
	if err != nil {
		return nil, err
	}

	typedData := agentTypedData(connectionID, mainnet)
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash agent: %w", err)
	}

	raw := []byte("\x19\x01")
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// SignatureFromBytes splits a 65 byte r||s||v signature. Both 0/1 and 27/28
// recovery ids are accepted.
func SignatureFromBytes(sig []byte) (Signature, error) {
	if len(sig) != crypto.SignatureLength {
		return Signature{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return Signature{}, fmt.Errorf("invalid recovery id %d", sig[64])
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: v,
	}, nil
}

// Bytes reassembles the signature with a 0/1 recovery id.
func (s Signature) Bytes() ([]byte, error) {
	r, err := hexutil.Decode(s.R)
	if err != nil {
		return nil, fmt.Errorf("decode r: %w", err)
	}
	sv, err := hexutil.Decode(s.S)
	if err != nil {
		return nil, fmt.Errorf("decode s: %w", err)
	}
	if len(r) > 32 || len(sv) > 32 {
		return nil, errors.New("signature component too long")
	}
	out := make([]byte, crypto.SignatureLength)
	copy(out[32-len(r):32], r)
	copy(out[64-len(sv):64], sv)
	if s.V < 27 {
		return nil, fmt.Errorf("invalid recovery id %d", s.V)
	}
	out[64] = s.V - 27
	return out, nil
}

// RecoverAddress returns the address that produced sig over digest.
func RecoverAddress(digest []byte, sig Signature) (common.Address, error) {
	raw, err := sig.Bytes()
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
