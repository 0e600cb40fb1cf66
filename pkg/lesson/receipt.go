package lesson

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/logger"
)

const (
	receiptIssuer     = "emojivm"
	defaultReceiptTTL = 30 * 24 * time.Hour
)

var ErrInvalidReceipt = errors.New("invalid receipt")

// ReceiptClaims prove that a program passed a lesson step.
type ReceiptClaims struct {
	LessonID  string `json:"lesson"`
	StepID    string `json:"step"`
	ProgramID string `json:"program"`
	Cycles    int    `json:"cycles"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies receipts with an HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an issuer. ttl <= 0 uses the default of 30 days.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultReceiptTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssuerFromConfig reads the secret from EMOJIVM_RECEIPT_SECRET or
// [Lessons] receipt_secret. Without one, receipts are signed with a random
// per-process secret and do not survive a restart.
func IssuerFromConfig() *Issuer {
	secret := os.Getenv("EMOJIVM_RECEIPT_SECRET")
	if secret == "" {
		secret = configuration.GetString("Lessons", "receipt_secret", "")
	}
	if secret == "" {
		logger.SecurityWarn("no receipt secret configured - using a random one, receipts will not verify after restart")
		secret = uuid.NewString()
	}
	ttl := configuration.GetDuration("Lessons", "receipt_ttl", defaultReceiptTTL)
	return NewIssuer(secret, ttl)
}

// Issue signs a receipt for a passed step.
func (i *Issuer) Issue(lessonID, stepID, programID string, cycles int) (string, error) {
	now := i.now()
	claims := ReceiptClaims{
		LessonID:  lessonID,
		StepID:    stepID,
		ProgramID: programID,
		Cycles:    cycles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    receiptIssuer,
			Subject:   lessonID + "/" + stepID,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("receipt could not be signed: %w", err)
	}
	logger.Info(logger.AreaLesson, "receipt %s issued for %s", claims.ID, claims.Subject)
	return signed, nil
}

// Verify checks signature, issuer and validity window of a receipt.
func (i *Issuer) Verify(token string) (*ReceiptClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(receiptIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	claims := &ReceiptClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidReceipt
	}
	return claims, nil
}
