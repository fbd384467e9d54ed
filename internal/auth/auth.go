// Package auth provides bearer-token verification for agent connections.
//
// Uses Ed25519 (EdDSA) for JWT signing. Keys can be loaded from PEM files
// or auto-generated for development. Token issuance happens outside this
// service (spec §1) — this package only verifies.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends jwt.RegisteredClaims with the agent identity this service
// needs to route a connection to the right queue/match participant.
type Claims struct {
	jwt.RegisteredClaims
	AgentID string `json:"agent_id"`
}

// tokenIssuer and tokenAudience must match the value the external identity
// provider stamps into every token.
const (
	tokenIssuer   = "arbiterd"
	tokenAudience = "arbiterd"
)

// JWTManager validates bearer tokens using Ed25519. It holds only a public
// key and never signs tokens.
type JWTManager struct {
	publicKey ed25519.PublicKey
}

// NewJWTManager creates a JWTManager from a PEM-encoded Ed25519 public key
// file. If path is empty, generates an ephemeral key pair and returns its
// public half (for development — no token issued elsewhere will validate).
func NewJWTManager(publicKeyPath string) (*JWTManager, error) {
	if publicKeyPath == "" {
		slog.Warn("auth: no JWT public key configured, generating ephemeral key pair (not for production)")
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &JWTManager{publicKey: pub}, nil
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}
	return &JWTManager{publicKey: edPub}, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.AgentID == "" {
		return nil, fmt.Errorf("auth: token missing agent_id claim")
	}
	return claims, nil
}
