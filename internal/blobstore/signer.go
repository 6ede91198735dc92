package blobstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidRef is returned for refs that are malformed, tampered with or expired.
var ErrInvalidRef = errors.New("invalid or expired file reference")

const refIssuer = "medical-insights/files"

type refClaims struct {
	FileID string `json:"fid"`
	jwt.RegisteredClaims
}

// Signer issues and checks time-limited file references.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. A zero ttl defaults to 15 minutes.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a reference to fileID valid for the signer's ttl.
func (s *Signer) Sign(fileID string) (string, error) {
	now := s.now()
	claims := &refClaims{
		FileID: fileID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    refIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	ref, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign file reference: %w", err)
	}
	return ref, nil
}

// Verify returns the file id carried by ref.
func (s *Signer) Verify(ref string) (string, error) {
	claims := &refClaims{}
	token, err := jwt.ParseWithClaims(ref, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(refIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	if !token.Valid || claims.FileID == "" {
		return "", ErrInvalidRef
	}
	return claims.FileID, nil
}
