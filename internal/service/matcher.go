package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"juninpagos/backend/internal/cache"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// replyPrefix matches one leading reply or forward marker.
var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd?|fw)\s*:\s*`)

// StripReplyPrefixes removes every leading "Re:", "Fwd:", "FW:" marker.
func StripReplyPrefixes(subject string) string {
	s := subject
	for {
		loc := replyPrefix.FindStringIndex(s)
		if loc == nil {
			return strings.TrimSpace(s)
		}
		s = s[loc[1]:]
	}
}

// ThreadMatcher picks the conversation an inbound email belongs to,
// creating one when nothing matches. Matching is best effort and may
// misattribute.
type ThreadMatcher interface {
	MatchThread(ctx context.Context, leadID *int64, subject string) (*domain.EmailThread, error)
}

// LeadMatcher guesses the lead behind a sender address. It returns nil when
// there is no candidate.
type LeadMatcher interface {
	MatchLead(ctx context.Context, sender string) (*int64, error)
}

// AccountResolver maps a recipient address onto one of our mailboxes. It
// returns nil for unknown addresses.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, address string) (*domain.EmailAccount, error)
}

// SubjectThreadMatcher reuses the most recently active thread whose subject
// contains the subject stripped of reply prefixes.
type SubjectThreadMatcher struct {
	threads storage.ThreadRepository
}

// NewSubjectThreadMatcher creates a subject based ThreadMatcher.
func NewSubjectThreadMatcher(threads storage.ThreadRepository) *SubjectThreadMatcher {
	return &SubjectThreadMatcher{threads: threads}
}

// MatchThread implements ThreadMatcher.
func (m *SubjectThreadMatcher) MatchThread(ctx context.Context, leadID *int64, subject string) (*domain.EmailThread, error) {
	if cleaned := StripReplyPrefixes(subject); cleaned != "" {
		thread, err := m.threads.FindThreadContainingSubject(ctx, cleaned)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	thread := &domain.EmailThread{LeadID: leadID, Subject: subject}
	if err := m.threads.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// RecentRecipientLeadMatcher inherits the lead of the latest email we sent to
// the same address.
type RecentRecipientLeadMatcher struct {
	emails storage.EmailRepository
}

// NewRecentRecipientLeadMatcher creates a LeadMatcher backed by sent history.
func NewRecentRecipientLeadMatcher(emails storage.EmailRepository) *RecentRecipientLeadMatcher {
	return &RecentRecipientLeadMatcher{emails: emails}
}

// MatchLead implements LeadMatcher.
func (m *RecentRecipientLeadMatcher) MatchLead(ctx context.Context, sender string) (*int64, error) {
	if sender == "" {
		return nil, nil
	}
	return m.emails.FindLeadIDByRecipient(ctx, sender)
}

// CachedAccountResolver looks accounts up by address and caches the answer,
// including misses, for a short time.
type CachedAccountResolver struct {
	accounts storage.AccountRepository
	cache    *cache.LocalCache[*domain.EmailAccount]
}

// NewCachedAccountResolver creates an AccountResolver with a local cache.
func NewCachedAccountResolver(accounts storage.AccountRepository, ttl time.Duration) *CachedAccountResolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedAccountResolver{
		accounts: accounts,
		cache:    cache.NewLocalCache[*domain.EmailAccount](1000, ttl),
	}
}

// ResolveAccount implements AccountResolver.
func (r *CachedAccountResolver) ResolveAccount(ctx context.Context, address string) (*domain.EmailAccount, error) {
	key := domain.NormalizeAddress(address)
	if key == "" {
		return nil, nil
	}
	if account, ok := r.cache.Get(key); ok {
		return account, nil
	}

	account, err := r.accounts.GetAccountByEmail(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		r.cache.Set(key, nil, 0)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, account, 0)
	return account, nil
}

// Invalidate drops the cached answer for address.
func (r *CachedAccountResolver) Invalidate(address string) {
	r.cache.Delete(domain.NormalizeAddress(address))
}

// Close stops the cache janitor.
func (r *CachedAccountResolver) Close() {
	r.cache.Stop()
}
