package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openadapt/adapt/internal/scrub"
	"github.com/openadapt/adapt/internal/storage"
)

const (
	defaultResult     = "success"
	defaultActor      = "adapt"
	maxAppendAttempts = 50
)

var ErrUnknownAction = errors.New("unknown audit action")

// Service appends events to a hash chain: every event hash covers the
// previous hash, so editing or dropping a stored row breaks verification.
// Appends are serialized within a Service by a mutex and across processes
// by a compare-and-swap on the stored tip.
type Service struct {
	repo  storage.AuditRepository
	actor string
	mu    sync.Mutex
}

type Option func(*Service)

// WithActor sets the actor stamped on events that do not name one.
func WithActor(actor string) Option {
	return func(s *Service) {
		if actor = strings.TrimSpace(actor); actor != "" {
			s.actor = actor
		}
	}
}

func NewService(ctx context.Context, repo storage.AuditRepository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("new audit service: repository is nil")
	}

	if _, err := repo.ChainTip(ctx); err != nil {
		return nil, fmt.Errorf("new audit service: read chain tip: %w", err)
	}

	s := &Service{repo: repo, actor: defaultActor}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func IsKnownAction(action string) bool {
	return slices.Contains(AllActionTypes, action)
}

func (s *Service) Record(ctx context.Context, event Event) error {
	if !IsKnownAction(event.Action) {
		return fmt.Errorf("record audit event: %w: %q", ErrUnknownAction, event.Action)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Result == "" {
		event.Result = defaultResult
	}
	if event.Actor == "" {
		event.Actor = s.actor
	}

	details, err := cleanDetails(event.Details)
	if err != nil {
		return fmt.Errorf("record audit event: details: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		err := s.appendAtTip(ctx, event, string(details))
		if !errors.Is(err, storage.ErrAuditChainMoved) {
			return err
		}
		if attempt == maxAppendAttempts {
			return fmt.Errorf("record audit event: gave up after %d attempts: %w", attempt, err)
		}
		// another process appended first; relink against its tip
		select {
		case <-ctx.Done():
			return fmt.Errorf("record audit event: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * time.Millisecond):
		}
	}
}

func (s *Service) appendAtTip(ctx context.Context, event Event, details string) error {
	tip, err := s.repo.ChainTip(ctx)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	entry := &storage.AuditEvent{
		Action:      event.Action,
		Actor:       event.Actor,
		TargetType:  event.TargetType,
		TargetID:    event.TargetID,
		Result:      event.Result,
		DetailsJSON: details,
		PrevHash:    tip,
		CreatedAt:   event.Timestamp,
	}
	entry.EventHash, err = linkHash(*entry)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	if err := s.repo.AppendLinked(ctx, entry); err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// Verify recomputes every link in append order. A broken chain is reported
// in the result; the error return is reserved for storage failures.
func (s *Service) Verify(ctx context.Context) (*VerifyResult, error) {
	result := &VerifyResult{Valid: true}
	prev := ""

	err := s.repo.Walk(ctx, func(event storage.AuditEvent) error {
		result.EventCount++
		if !result.Valid {
			return nil
		}
		expected, err := linkHash(storage.AuditEvent{
			Action:      event.Action,
			Actor:       event.Actor,
			TargetType:  event.TargetType,
			TargetID:    event.TargetID,
			Result:      event.Result,
			DetailsJSON: event.DetailsJSON,
			PrevHash:    prev,
			CreatedAt:   event.CreatedAt,
		})
		if err != nil || !hashEqual(event.PrevHash, prev) || !hashEqual(event.EventHash, expected) {
			result.Valid = false
			result.BrokenAt = event.ID
			result.Error = fmt.Sprintf("hash mismatch at event %s", event.ID)
			return nil
		}
		prev = event.EventHash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: %w", err)
	}
	result.ChainTip = prev
	if !result.Valid {
		return result, nil
	}

	storedTip, err := s.repo.ChainTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: %w", err)
	}
	if !hashEqual(storedTip, prev) {
		result.Valid = false
		result.Error = "hash mismatch at chain tip"
	}
	return result, nil
}

func (s *Service) List(ctx context.Context, filter Filter) ([]RecordedEvent, error) {
	events, err := s.repo.List(ctx, storage.AuditFilter{
		Action:     filter.Action,
		TargetType: filter.TargetType,
		TargetID:   filter.TargetID,
		Since:      filter.Since,
		Until:      filter.Until,
		Limit:      filter.Limit,
		Tail:       filter.Latest,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	out := make([]RecordedEvent, 0, len(events))
	for _, event := range events {
		out = append(out, RecordedEvent{
			ID:          event.ID,
			Timestamp:   event.CreatedAt,
			Action:      event.Action,
			Actor:       event.Actor,
			TargetType:  event.TargetType,
			TargetID:    event.TargetID,
			Result:      event.Result,
			DetailsJSON: event.DetailsJSON,
			PrevHash:    event.PrevHash,
			EventHash:   event.EventHash,
		})
	}
	return out, nil
}

// link is the hashed form of an event. Field order is fixed by the struct
// and details are already canonical, so the encoding is stable.
type link struct {
	Prev       string          `json:"prev"`
	Timestamp  string          `json:"ts"`
	Action     string          `json:"action"`
	Actor      string          `json:"actor,omitempty"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Result     string          `json:"result"`
	Details    json.RawMessage `json:"details"`
}

func linkHash(event storage.AuditEvent) (string, error) {
	details := strings.TrimSpace(event.DetailsJSON)
	if details == "" {
		details = "{}"
	}
	if !json.Valid([]byte(details)) {
		return "", fmt.Errorf("invalid details json")
	}

	payload, err := encodeCompact(link{
		Prev:       event.PrevHash,
		Timestamp:  event.CreatedAt.UTC().Format(time.RFC3339Nano),
		Action:     event.Action,
		Actor:      event.Actor,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		Result:     firstNonEmpty(event.Result, defaultResult),
		Details:    json.RawMessage(details),
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// cleanDetails turns details into canonical JSON: credential-like keys are
// dropped, free text is scrubbed of personal data and object keys come out
// sorted.
func cleanDetails(details any) (json.RawMessage, error) {
	if details == nil {
		return json.RawMessage(`{}`), nil
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		return nil, fmt.Errorf("details must encode to a JSON object")
	}

	return encodeCompact(sanitize(decoded))
}

func sanitize(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		clean := make(map[string]any, len(typed))
		for key, nested := range typed {
			if isSensitiveKey(key) {
				continue
			}
			if scrub.IsIdentifierKey(key) {
				clean[key] = nested
				continue
			}
			clean[key] = sanitize(nested)
		}
		return clean
	case []any:
		out := make([]any, 0, len(typed))
		for _, nested := range typed {
			out = append(out, sanitize(nested))
		}
		return out
	case string:
		return scrub.Text(typed)
	default:
		return value
	}
}

// Replay details may carry prompt payloads; provider credentials and image
// bytes never belong in the chain.
var sensitiveKeyFragments = []string{
	"secret", "password", "token", "api_key",
	"authorization", "credential", "png", "image",
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// encodeCompact marshals without HTML escaping or a trailing newline.
// encoding/json already sorts map keys.
func encodeCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
