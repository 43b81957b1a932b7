package auth

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/deskrelay/deskrelay/internal/protocol"
)

func TestGeneratePasskey(t *testing.T) {
	key1, err := GeneratePasskey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key1) != PasskeySize {
		t.Fatalf("expected %d bytes, got %d", PasskeySize, len(key1))
	}

	key2, err := GeneratePasskey()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(key1, key2) {
		t.Fatal("two generated passkeys should not be equal")
	}
}

func TestComputeAndVerify(t *testing.T) {
	secret := []byte("test-passkey-32-bytes-long-xxxxx")
	material := []byte("tls-exporter-material-for-test")

	token := ComputeAuthToken(secret, material)
	if !VerifyAuthToken(secret, material, token) {
		t.Fatal("valid token should verify")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	secret := []byte("correct-passkey-32-bytes-xxxxxxx")
	wrong := []byte("wrong-passkey-32-bytes-xxxxxxxxx")
	material := []byte("tls-exporter-material")

	token := ComputeAuthToken(secret, material)
	if VerifyAuthToken(wrong, material, token) {
		t.Fatal("wrong secret should not verify")
	}
}

func TestVerifyWrongMaterial(t *testing.T) {
	secret := []byte("test-passkey-32-bytes-long-xxxxx")
	material1 := []byte("material-session-1")
	material2 := []byte("material-session-2")

	token := ComputeAuthToken(secret, material1)
	if VerifyAuthToken(secret, material2, token) {
		t.Fatal("different TLS session material should not verify")
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	secret := []byte("test-passkey-32-bytes-long-xxxxx")
	material := []byte("tls-exporter-material")

	token := ComputeAuthToken(secret, material)
	token[0] ^= 0xFF
	if VerifyAuthToken(secret, material, token) {
		t.Fatal("tampered token should not verify")
	}
}

func TestTokenDeterministic(t *testing.T) {
	secret := []byte("test-passkey-32-bytes-long-xxxxx")
	material := []byte("same-material")

	token1 := ComputeAuthToken(secret, material)
	token2 := ComputeAuthToken(secret, material)
	if token1 != token2 {
		t.Fatal("same inputs should produce same token")
	}
}

func TestPasswordAuthenticatorAcceptsCorrectPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	a := &PasswordAuthenticator{HashedPassword: hash}
	resp := RespondPassword("correct horse battery staple")
	if err := a.Verify(nil, resp); err != nil {
		t.Fatalf("expected correct password to verify, got %v", err)
	}
}

func TestPasswordAuthenticatorRejectsWrongPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	a := &PasswordAuthenticator{HashedPassword: hash}
	resp := RespondPassword("wrong password")
	if err := a.Verify(nil, resp); err == nil {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestTicketAuthenticatorSingleUse(t *testing.T) {
	ticket, err := IssueTicket()
	if err != nil {
		t.Fatal(err)
	}
	a := &TicketAuthenticator{Outstanding: map[uuid.UUID]*Ticket{ticket.ID: ticket}}

	material := []byte("fake-exporter-material-32-bytes")
	token := ComputeAuthToken(ticket.Secret, material)
	proof := append(append([]byte{}, ticket.ID[:]...), token[:]...)
	resp := &protocol.AuthResponse{Method: protocol.AuthMethodTicket, Proof: proof}

	if err := a.verifyProof(material, resp); err != nil {
		t.Fatalf("expected valid ticket to verify, got %v", err)
	}
	if err := a.verifyProof(material, resp); err == nil {
		t.Fatal("expected ticket to be rejected on reuse")
	}
}

func TestTicketAuthenticatorRejectsUnknownID(t *testing.T) {
	a := &TicketAuthenticator{Outstanding: map[uuid.UUID]*Ticket{}}
	material := []byte("fake-exporter-material-32-bytes")
	unknown := uuid.New()
	token := ComputeAuthToken([]byte("some-secret"), material)
	proof := append(append([]byte{}, unknown[:]...), token[:]...)
	resp := &protocol.AuthResponse{Method: protocol.AuthMethodTicket, Proof: proof}
	if err := a.verifyProof(material, resp); err == nil {
		t.Fatal("expected unknown ticket ID to be rejected")
	}
}

func TestTLSAuthenticatorRejectsMissingCert(t *testing.T) {
	a := &TLSAuthenticator{}
	if err := a.Verify(nil, &protocol.AuthResponse{}); err == nil {
		t.Fatal("expected missing client certificate to be rejected")
	}
}
