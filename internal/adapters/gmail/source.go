package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/finpilot/mail-finance-pilot/internal/core"
)

// Source reads a Gmail mailbox through the Gmail REST API. The sync cursor
// position is the unix-seconds timestamp of the newest committed message;
// listing resumes with an after: query so a crashed run re-lists the last
// second and relies on committed-id dedup.
type Source struct {
	svc       *gmailapi.Service
	mailboxID string
	logger    *zap.Logger
}

// NewSource builds a Gmail source for one mailbox. The OAuth token is read
// from the vault and refreshed tokens are rotated back into it.
func NewSource(ctx context.Context, oauthCfg *oauth2.Config, vault core.CredentialVault, mb *core.Mailbox, logger *zap.Logger) (*Source, error) {
	token, err := vault.ActiveCredential(ctx, mb.CredentialHandle)
	if err != nil {
		return nil, err
	}

	ts := &rotatingTokenSource{
		inner:  oauthCfg.TokenSource(ctx, token),
		vault:  vault,
		handle: mb.CredentialHandle,
		last:   token,
		logger: logger,
	}

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &Source{svc: svc, mailboxID: mb.ID.String(), logger: logger}, nil
}

// rotatingTokenSource persists refreshed tokens so a restart does not need
// the user to re-consent.
type rotatingTokenSource struct {
	inner  oauth2.TokenSource
	vault  core.CredentialVault
	handle string
	logger *zap.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *rotatingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.inner.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAuthExpired, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || token.AccessToken != s.last.AccessToken {
		if err := s.vault.Rotate(context.Background(), s.handle, token); err != nil {
			// Sync continues on the fresh token; only persistence failed.
			s.logger.Warn("Failed to persist rotated token",
				zap.String("handle", s.handle),
				zap.Error(err))
		}
		s.last = token
	}
	return token, nil
}

// ListMessagesSince returns one page of message ids at or after position.
func (s *Source) ListMessagesSince(ctx context.Context, position, pageToken string, pageSize int64) (*core.MessagePage, error) {
	call := s.svc.Users.Messages.List("me").MaxResults(pageSize).Context(ctx)
	if position != "" {
		call = call.Q("after:" + position)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, mapError(err)
	}

	page := &core.MessagePage{NextPageToken: resp.NextPageToken}
	var newest int64
	for _, m := range resp.Messages {
		// The list call omits timestamps; a minimal get fills them in.
		meta, err := s.svc.Users.Messages.Get("me", m.Id).Format("minimal").Context(ctx).Do()
		if err != nil {
			return nil, mapError(err)
		}
		internal := time.UnixMilli(meta.InternalDate).UTC()
		page.Items = append(page.Items, core.MessageMeta{
			ProviderID:   m.Id,
			InternalDate: internal,
		})
		if sec := internal.Unix(); sec > newest {
			newest = sec
		}
	}
	if newest > 0 {
		page.NewPosition = strconv.FormatInt(newest, 10)
	}
	s.logger.Debug("Listed gmail page",
		zap.String("mailbox_id", s.mailboxID),
		zap.Int("items", len(page.Items)),
		zap.String("new_position", page.NewPosition))
	return page, nil
}

// FetchMessage retrieves the full content of one message.
func (s *Source) FetchMessage(ctx context.Context, providerID string) (*core.RawMessage, error) {
	msg, err := s.svc.Users.Messages.Get("me", providerID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	headers := make(map[string]string)
	var from, subject string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			headers[h.Name] = h.Value
			switch h.Name {
			case "From":
				from = h.Value
			case "Subject":
				subject = h.Value
			}
		}
	}

	raw := &core.RawMessage{
		ProviderID:   providerID,
		From:         from,
		Subject:      subject,
		Snippet:      msg.Snippet,
		Body:         extractBody(msg.Payload),
		Headers:      headers,
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
		FetchedAt:    time.Now().UTC(),
		Status:       core.MessageFetched,
	}
	return raw, nil
}

// extractBody walks the MIME tree and prefers text/plain over text/html.
func extractBody(part *gmailapi.MessagePart) string {
	if part == nil {
		return ""
	}
	if plain := findPart(part, "text/plain"); plain != "" {
		return plain
	}
	return findPart(part, "text/html")
}

func findPart(part *gmailapi.MessagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, child := range part.Parts {
		if found := findPart(child, mimeType); found != "" {
			return found
		}
	}
	return ""
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// mapError translates Gmail API failures into the pipeline's error taxonomy.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: %v", core.ErrAuthExpired, err)
		case apiErr.Code == 429:
			return fmt.Errorf("%w: %v", core.ErrRateLimited, err)
		case apiErr.Code >= 500:
			return &core.TransientSourceError{Err: err}
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Network level failures are retryable.
	return &core.TransientSourceError{Err: err}
}
