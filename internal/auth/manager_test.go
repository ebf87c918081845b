package auth

import (
	"context"
	"testing"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/auth/domain"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

type fakeKeyStore struct {
	records map[string]model.APIKeyRecord
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{records: make(map[string]model.APIKeyRecord)}
}

func (f *fakeKeyStore) PutKey(_ context.Context, record model.APIKeyRecord, _ time.Duration) error {
	f.records[record.KeyID] = record
	return nil
}

func (f *fakeKeyStore) GetKey(_ context.Context, keyID string) (model.APIKeyRecord, error) {
	record, ok := f.records[keyID]
	if !ok {
		return model.APIKeyRecord{}, domain.ErrKeyNotFound
	}
	return record, nil
}

func (f *fakeKeyStore) DeleteKey(_ context.Context, keyID string) error {
	delete(f.records, keyID)
	return nil
}

func testManager(store KeyStore) *Manager {
	return NewManager(store, Config{
		Secret:        "test-secret",
		Issuer:        "mediaforge",
		TTL:           time.Hour,
		IssuePassword: "let-me-in",
	})
}

func TestIssueKeyRejectsBadPassword(t *testing.T) {
	m := testManager(newFakeKeyStore())
	_, _, err := m.IssueKey(context.Background(), "wrong", "client-1", "test key")
	if err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestIssueThenVerify(t *testing.T) {
	m := testManager(newFakeKeyStore())
	token, record, err := m.IssueKey(context.Background(), "let-me-in", "client-1", "test key")
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	verified, err := m.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.KeyID != record.KeyID {
		t.Fatalf("expected key id %q, got %q", record.KeyID, verified.KeyID)
	}
}

func TestVerifyRejectsUnknownToken(t *testing.T) {
	m := testManager(newFakeKeyStore())
	if _, err := m.Verify(context.Background(), "not-a-real-token"); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestRevokeKeyThenVerifyFails(t *testing.T) {
	store := newFakeKeyStore()
	m := testManager(store)
	token, _, err := m.IssueKey(context.Background(), "let-me-in", "client-1", "test key")
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}

	if err := m.RevokeKey(context.Background(), token); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	if _, err := m.Verify(context.Background(), token); err == nil {
		t.Fatal("expected verify to fail after revocation")
	}
}
