// Package attachments issues time-limited upload grants for task files.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"taskmanager/domain"
)

// TaskReader checks that a task exists.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (domain.Task, error)
}

// GrantClaims is the payload of an upload grant token.
type GrantClaims struct {
	TaskID  string `json:"tid"`
	FileKey string `json:"key"`
	jwt.RegisteredClaims
}

// Issuer signs upload grants with a shared secret.
type Issuer struct {
	tasks   TaskReader
	baseURL *url.URL
	secret  []byte
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// NewIssuer creates an Issuer for uploads under baseURL.
func NewIssuer(tasks TaskReader, baseURL, secret string, ttl, timeout time.Duration) (*Issuer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upload base url %q", baseURL)
	}
	if secret == "" {
		return nil, errors.New("upload grant secret is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Issuer{tasks: tasks, baseURL: u, secret: []byte(secret), ttl: ttl, timeout: timeout, now: time.Now, newID: uuid.NewString}, nil
}

// IssueUploadGrant returns a signed upload URL for one file of an existing
// task. A missing task yields a ConditionalWriteError.
func (i *Issuer) IssueUploadGrant(ctx context.Context, filename, taskID, userID string) (domain.UploadGrant, error) {
	name := sanitize(filename)
	if name == "" {
		return domain.UploadGrant{}, domain.NewValidationError("filename", "filename is required")
	}
	lookup, cancel := context.WithTimeout(ctx, i.timeout)
	_, err := i.tasks.Get(lookup, taskID)
	cancel()
	if domain.IsNotFound(err) {
		return domain.UploadGrant{}, &domain.ConditionalWriteError{Entity: "task", ID: taskID, Reason: "task does not exist"}
	}
	if err != nil {
		return domain.UploadGrant{}, domain.NewDownstreamError("dts", "get", err)
	}

	attachmentID := i.newID()
	fileKey := fmt.Sprintf("tasks/%s/%s-%s", taskID, attachmentID, name)
	now := i.now().UTC()
	expires := now.Add(i.ttl).Truncate(time.Second)
	claims := GrantClaims{
		TaskID:  taskID,
		FileKey: fileKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        attachmentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return domain.UploadGrant{}, fmt.Errorf("sign upload grant: %w", err)
	}

	u := *i.baseURL
	u.Path = path.Join("/", u.Path, fileKey)
	u.RawQuery = url.Values{"grant": {token}}.Encode()
	return domain.UploadGrant{UploadURL: u.String(), FileKey: fileKey, AttachmentID: attachmentID, ExpiresAt: expires}, nil
}

// Verify parses a grant token issued by i. It is the check the upload front
// end runs before accepting an object for a grant's file key.
func (i *Issuer) Verify(token string) (*GrantClaims, error) {
	claims := &GrantClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, &domain.AuthError{Reason: "invalid upload grant", Err: err}
	}
	return claims, nil
}

func sanitize(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
}
