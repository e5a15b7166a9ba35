package attachments

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"taskmanager/domain"
)

type stubTasks map[string]bool

func (s stubTasks) Get(ctx context.Context, id string) (domain.Task, error) {
	if s[id] {
		return domain.Task{TaskID: id}, nil
	}
	return domain.Task{}, &domain.NotFoundError{Entity: "task", ID: id}
}

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(stubTasks{"t1": true}, "https://uploads.example.com/files", "grant-secret-0123456789", 10*time.Minute, time.Second)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	i.now = func() time.Time { return time.Now().Truncate(time.Second) }
	i.newID = func() string { return "att-1" }
	return i
}

func TestIssueUploadGrant(t *testing.T) {
	i := newTestIssuer(t)

	grant, err := i.IssueUploadGrant(context.Background(), "../../report final.pdf", "t1", "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if grant.FileKey != "tasks/t1/att-1-report final.pdf" {
		t.Fatalf("unexpected file key %q", grant.FileKey)
	}
	if grant.AttachmentID != "att-1" {
		t.Fatalf("unexpected attachment id %q", grant.AttachmentID)
	}
	u, err := url.Parse(grant.UploadURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "uploads.example.com" || u.Path != "/files/tasks/t1/att-1-report final.pdf" {
		t.Fatalf("unexpected upload url %s", grant.UploadURL)
	}
	claims, err := i.Verify(u.Query().Get("grant"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || claims.TaskID != "t1" || claims.FileKey != grant.FileKey {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(grant.ExpiresAt) {
		t.Fatalf("expiry mismatch: %v vs %v", claims.ExpiresAt.Time, grant.ExpiresAt)
	}
}

func TestIssueUploadGrantRequiresTask(t *testing.T) {
	_, err := newTestIssuer(t).IssueUploadGrant(context.Background(), "a.txt", "missing", "u1")
	var cw *domain.ConditionalWriteError
	if !errors.As(err, &cw) {
		t.Fatalf("expected conditional write error, got %v", err)
	}
}

func TestIssueUploadGrantRequiresFilename(t *testing.T) {
	_, err := newTestIssuer(t).IssueUploadGrant(context.Background(), "  ", "t1", "u1")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	i := newTestIssuer(t)
	grant, err := i.IssueUploadGrant(context.Background(), "a.txt", "t1", "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, err := NewIssuer(stubTasks{}, "https://uploads.example.com", "another-secret-0123456789", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	u, _ := url.Parse(grant.UploadURL)
	if _, err := other.Verify(u.Query().Get("grant")); err == nil || !strings.Contains(err.Error(), "invalid upload grant") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestNewIssuerValidatesInput(t *testing.T) {
	if _, err := NewIssuer(stubTasks{}, "not a url", "s", time.Minute, time.Second); err == nil {
		t.Fatalf("expected url error")
	}
	if _, err := NewIssuer(stubTasks{}, "https://x.example.com", "", time.Minute, time.Second); err == nil {
		t.Fatalf("expected secret error")
	}
}
