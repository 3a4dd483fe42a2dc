package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"clinic-secops/internal/config"
	"clinic-secops/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var ErrInvalidPepper = errors.New("invalid pepper")

// Digest contexts keep a token digest from ever matching a backup-code digest.
const (
	ContextSessionToken = "session_token"
	ContextCredential   = "credential"
	ContextBackupCode   = "backup_code"
)

const (
	Base32Alphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	UpperAlphanumeric    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	minPepperLength      = 16
	generatedPepperBytes = 32
)

// Hasher produces keyed, deterministic digests so that secrets can be looked up by
// digest with a single indexed query instead of being stored in clear.
type Hasher struct {
	pepper []byte
}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	pepper := []byte(cfg.Security.TokenPepper)
	if len(pepper) == 0 {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("%w: TOKEN_PEPPER is required in production", ErrInvalidPepper)
		}
		pepper = make([]byte, generatedPepperBytes)
		if _, err := rand.Read(pepper); err != nil {
			return nil, fmt.Errorf("failed to generate pepper: %w", err)
		}
		util.Warn("TOKEN_PEPPER not set - using an ephemeral pepper; digests will not survive restarts")
	}
	return NewHasherWithPepper(pepper)
}

func NewHasherWithPepper(pepper []byte) (*Hasher, error) {
	if len(pepper) < minPepperLength {
		return nil, fmt.Errorf("%w: must be at least %d bytes", ErrInvalidPepper, minPepperLength)
	}
	if len(pepper) > blake2b.Size {
		sum := blake2b.Sum256(pepper)
		pepper = sum[:]
	}
	return &Hasher{pepper: pepper}, nil
}

// Digest returns base64url(BLAKE2b-256 keyed with the pepper over context|value).
func (h *Hasher) Digest(context, value string) string {
	mac, err := blake2b.New256(h.pepper)
	if err != nil {
		// key length is validated in NewHasherWithPepper
		util.Fatal("blake2b rejected pepper", zap.Error(err))
	}
	mac.Write([]byte(context))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Hasher) Verify(context, value, digest string) bool {
	computed := h.Digest(context, value)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// NewToken returns a random URL-safe bearer token of n random bytes.
func NewToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomString draws n characters uniformly from alphabet.
func RandomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random string: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
