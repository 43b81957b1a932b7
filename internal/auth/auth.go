// Package auth implements the session's pluggable authenticators: TLS
// mutual auth (peer cert presence plus a CN/SAN allowlist), password
// verification against a stored bcrypt hash, and ticket-based
// verification bound to the TLS channel the same way the original
// HMAC-passkey scheme is, just with a server-issued ticket instead of a
// pre-shared passkey.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

const exporterLabel = "deskrelay-auth-v1"

// Authenticator is implemented by each pluggable auth strategy negotiated
// during the session handshake's AUTH state.
type Authenticator interface {
	Method() protocol.AuthMethod

	// Challenge is called server-side to produce the AuthChallenge to send.
	Challenge() (*protocol.AuthChallenge, error)

	// Verify is called server-side to validate a client's response. The
	// tls.ConnectionState is always passed so ticket/password methods can
	// bind their proof to the channel via ExportKeyingMaterial.
	Verify(state *tls.ConnectionState, resp *protocol.AuthResponse) error
}

// --- TLS mutual-auth ---

// TLSAuthenticator accepts any client presenting a certificate signed by
// the configured CA, optionally restricted to an allowlist of CN/SAN
// domains.
type TLSAuthenticator struct {
	AllowedDomains []string // empty means "any validated peer cert"
}

func (a *TLSAuthenticator) Method() protocol.AuthMethod { return protocol.AuthMethodTLS }

func (a *TLSAuthenticator) Challenge() (*protocol.AuthChallenge, error) {
	return &protocol.AuthChallenge{Method: protocol.AuthMethodTLS}, nil
}

// RespondTLS is called client-side. Nothing travels over the wire — the
// certificate was already presented during the TLS handshake itself.
func RespondTLS() *protocol.AuthResponse {
	return &protocol.AuthResponse{Method: protocol.AuthMethodTLS, Ok: true}
}

func (a *TLSAuthenticator) Verify(state *tls.ConnectionState, _ *protocol.AuthResponse) error {
	if state == nil || len(state.PeerCertificates) == 0 {
		return category.Wrapf(category.Auth, "no client certificate presented")
	}
	if len(a.AllowedDomains) == 0 {
		return nil
	}
	cert := state.PeerCertificates[0]
	names := append([]string{cert.Subject.CommonName}, cert.DNSNames...)
	for _, n := range names {
		for _, allowed := range a.AllowedDomains {
			if n == allowed {
				return nil
			}
		}
	}
	return category.Wrapf(category.Auth, "client identity %v not in allowed_client_domains", names)
}

// --- Password auth ---

// PasswordAuthenticator verifies a password against a bcrypt hash
// configured at startup (e.g. loaded from the config file).
type PasswordAuthenticator struct {
	HashedPassword []byte // bcrypt hash
}

func (a *PasswordAuthenticator) Method() protocol.AuthMethod { return protocol.AuthMethodPassword }

func (a *PasswordAuthenticator) Challenge() (*protocol.AuthChallenge, error) {
	return &protocol.AuthChallenge{Method: protocol.AuthMethodPassword}, nil
}

// RespondPassword is called client-side with a password read via
// golang.org/x/term.ReadPassword. The plaintext travels as the response
// proof, protected by the outer TLS channel — the same trust boundary the
// HMAC passkey scheme below relies on.
func RespondPassword(password string) *protocol.AuthResponse {
	return &protocol.AuthResponse{Method: protocol.AuthMethodPassword, Proof: []byte(password)}
}

func (a *PasswordAuthenticator) Verify(_ *tls.ConnectionState, resp *protocol.AuthResponse) error {
	if err := bcrypt.CompareHashAndPassword(a.HashedPassword, resp.Proof); err != nil {
		return category.Wrapf(category.Auth, "password rejected: %v", err)
	}
	return nil
}

// HashPassword is a helper for config loading and admin tooling to produce
// the bcrypt hash stored in the server's config.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// --- Ticket auth ---

// Ticket is a short-lived, server-issued credential. IssueTicket mints a
// fresh UUID the server remembers; ComputeAuthToken/VerifyAuthToken below
// bind it to the session's TLS channel exactly the way a pre-shared
// passkey would be bound.
type Ticket struct {
	ID     uuid.UUID
	Secret []byte // 32 random bytes, HMAC key
}

// IssueTicket mints a new ticket with a fresh random secret.
func IssueTicket() (*Ticket, error) {
	secret, err := GeneratePasskey()
	if err != nil {
		return nil, err
	}
	return &Ticket{ID: uuid.New(), Secret: secret}, nil
}

// TicketAuthenticator verifies a client's proof against a table of
// outstanding tickets keyed by ID.
type TicketAuthenticator struct {
	Outstanding map[uuid.UUID]*Ticket
}

func (a *TicketAuthenticator) Method() protocol.AuthMethod { return protocol.AuthMethodTicket }

func (a *TicketAuthenticator) Challenge() (*protocol.AuthChallenge, error) {
	return &protocol.AuthChallenge{Method: protocol.AuthMethodTicket}, nil
}

// RespondTicket is called client-side, binding the ticket secret to the
// session's TLS channel via ExportKeyingMaterial.
func RespondTicket(ticket *Ticket, state *tls.ConnectionState) (*protocol.AuthResponse, error) {
	material, err := state.ExportKeyingMaterial(exporterLabel, nil, 32)
	if err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	token := ComputeAuthToken(ticket.Secret, material)
	proof := append(append([]byte{}, ticket.ID[:]...), token[:]...)
	return &protocol.AuthResponse{Method: protocol.AuthMethodTicket, Proof: proof}, nil
}

func (a *TicketAuthenticator) Verify(state *tls.ConnectionState, resp *protocol.AuthResponse) error {
	material, err := state.ExportKeyingMaterial(exporterLabel, nil, 32)
	if err != nil {
		return category.Wrap(category.Transport, err)
	}
	return a.verifyProof(material, resp)
}

// verifyProof holds the HMAC-and-lookup logic independent of the live TLS
// handshake, so it can be exercised directly with stubbed exporter material.
func (a *TicketAuthenticator) verifyProof(material []byte, resp *protocol.AuthResponse) error {
	if len(resp.Proof) != 16+32 {
		return category.Wrapf(category.Auth, "malformed ticket proof")
	}
	id, err := uuid.FromBytes(resp.Proof[:16])
	if err != nil {
		return category.Wrap(category.Auth, err)
	}
	ticket, ok := a.Outstanding[id]
	if !ok {
		return category.Wrapf(category.Auth, "unknown ticket %s", id)
	}
	var token [32]byte
	copy(token[:], resp.Proof[16:])
	if !VerifyAuthToken(ticket.Secret, material, token) {
		return category.Wrapf(category.Auth, "ticket HMAC mismatch")
	}
	delete(a.Outstanding, id) // single use
	return nil
}

// --- Shared HMAC primitives ---

const PasskeySize = 32

// GeneratePasskey returns a cryptographically random 32-byte secret.
func GeneratePasskey() ([]byte, error) {
	key := make([]byte, PasskeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ComputeAuthToken computes HMAC-SHA256(secret, exporterMaterial). The
// exporterMaterial should come from tls.ConnectionState.ExportKeyingMaterial
// so the token is bound to one specific TLS session.
func ComputeAuthToken(secret, exporterMaterial []byte) [32]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(exporterMaterial)
	var token [32]byte
	copy(token[:], mac.Sum(nil))
	return token
}

// VerifyAuthToken checks that the provided token matches the expected
// HMAC-SHA256(secret, exporterMaterial).
func VerifyAuthToken(secret, exporterMaterial []byte, token [32]byte) bool {
	expected := ComputeAuthToken(secret, exporterMaterial)
	return hmac.Equal(token[:], expected[:])
}

// ValidateCertChain asserts that cert chains to a root in pool, used by
// TLSAuthenticator callers that validate outside a live handshake (e.g.
// a pinned client-cert allowlist loaded from disk).
func ValidateCertChain(cert *x509.Certificate, pool *x509.CertPool) error {
	_, err := cert.Verify(x509.VerifyOptions{Roots: pool})
	return err
}
