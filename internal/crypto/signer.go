package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// EIP-712 type hashes.
var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	snapshotTypeHash = ethcrypto.Keccak256(
		[]byte("LedgerSnapshot(uint256 seq,bytes32 digest)"),
	)
)

const (
	domainName    = "StoreLedger"
	domainVersion = "1"
)

// Signer signs on behalf of the ledger operator.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key. The
// chain id is bound into every snapshot signature.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the operator address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SnapshotDigest is the content hash a snapshot signature commits to.
func SnapshotDigest(data []byte) common.Hash {
	return ethcrypto.Keccak256Hash(data)
}

// SignSnapshot signs the EIP-712 LedgerSnapshot struct for seq and the
// digest of the encoded snapshot. The result is 0x-prefixed r||s||v hex.
func (s *Signer) SignSnapshot(seq uint64, digest common.Hash) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, snapshotStructHash(seq, digest)))
}

// VerifySnapshot checks that sig is operator's signature over the snapshot
// with sequence seq and content digest.
func VerifySnapshot(operator common.Address, chainID int64, seq uint64, digest common.Hash, sig string) error {
	hash := eip712Hash(domainSeparator(chainID), snapshotStructHash(seq, digest))
	signer, err := recoverAddress(hash, sig)
	if err != nil {
		return err
	}
	if signer != operator {
		return fmt.Errorf("%w: snapshot %d signed by %s, want %s", domain.ErrBadSignature, seq, signer.Hex(), operator.Hex())
	}
	return nil
}

// RequestMessage is the text a caller signs to authenticate an API request:
// the timestamp, method and path followed by the hex SHA-256 of the body,
// separated by newlines.
func RequestMessage(timestamp, method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return timestamp + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + hex.EncodeToString(sum[:])
}

// RequestDigest is the personal_sign hash of RequestMessage. It identifies a
// signed request independently of the signature encoding.
func RequestDigest(timestamp, method, path string, body []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash([]byte(RequestMessage(timestamp, method, path, body))))
}

// SignRequest produces the personal_sign signature over RequestMessage.
func (s *Signer) SignRequest(timestamp, method, path string, body []byte) (string, error) {
	return s.signDigest(RequestDigest(timestamp, method, path, body).Bytes())
}

// RecoverCaller returns the address that produced sig over the request.
func RecoverCaller(sig, timestamp, method, path string, body []byte) (common.Address, error) {
	return recoverAddress(RequestDigest(timestamp, method, path, body).Bytes(), sig)
}

func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

func snapshotStructHash(seq uint64, digest common.Hash) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			snapshotTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(seq)),
			digest.Bytes(),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

func recoverAddress(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: not hex", domain.ErrBadSignature)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d", domain.ErrBadSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func addressOf(keyBytes []byte) (common.Address, error) {
	pk, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	var buf []byte
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
