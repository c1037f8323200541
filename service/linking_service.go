package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

// LinkingService detects related merchant identities across auth
// methods and runs the two-step initiate/confirm linking workflow. It
// never merges records: linked accounts stay independently addressable.
type LinkingService struct {
	merchants ports.MerchantStore
	links     ports.LinkStore
	scorer    ConfidenceScorer
	email     ports.EmailSender
	events    ports.EventPublisher
	logger    *logrus.Logger
	now       func() time.Time

	tokenTTL time.Duration
}

// NewLinkingService creates a linking service with the default rule
// scorer and token TTL.
func NewLinkingService(
	merchants ports.MerchantStore,
	links ports.LinkStore,
	email ports.EmailSender,
	events ports.EventPublisher,
	logger *logrus.Logger,
) *LinkingService {
	return &LinkingService{
		merchants: merchants,
		links:     links,
		scorer:    NewRuleScorer(),
		email:     email,
		events:    events,
		logger:    logger,
		now:       time.Now,
		tokenTTL:  core.LinkingTokenTTL,
	}
}

// SetScorer swaps the confidence heuristics. Intended for tests and
// configuration, not per-request use.
func (s *LinkingService) SetScorer(scorer ConfidenceScorer) {
	s.scorer = scorer
}

// DetectLinkableAccounts proposes other merchant records that may
// belong to the same identity. The resolver only proposes; it never
// mutates anything.
func (s *LinkingService) DetectLinkableAccounts(ctx context.Context, merchantID, email, stacksAddress, name string) ([]core.LinkCandidate, error) {
	seen := map[string]*core.Merchant{}

	if stacksAddress != "" {
		if m, err := s.merchants.GetByWalletAddress(ctx, stacksAddress); err == nil {
			seen[m.ID] = m
		}
	}
	if email != "" {
		if m, err := s.merchants.GetByEmail(ctx, email); err == nil {
			seen[m.ID] = m
		}
	}
	found, err := s.merchants.Search(ctx, email, name)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}
	for _, m := range found {
		seen[m.ID] = m
	}
	delete(seen, merchantID)

	var candidates []core.LinkCandidate
	for _, m := range seen {
		confidence, fields := s.scorer.Score(m, email, stacksAddress, name)
		if len(fields) == 0 {
			continue
		}
		candidates = append(candidates, core.LinkCandidate{
			ID:             m.ID,
			Name:           m.Name,
			Email:          m.Email,
			AuthMethod:     m.AuthMethod,
			Confidence:     confidence,
			MatchingFields: fields,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return stronger(candidates[i].Confidence, candidates[j].Confidence)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}

// InitiateLinking starts a link between the source merchant and a
// target account, returning a single-use token the target must confirm
// with. The target account holder is notified by email.
func (s *LinkingService) InitiateLinking(ctx context.Context, sourceMerchantID, targetAccountID, role string) (string, time.Time, error) {
	if targetAccountID == "" || sourceMerchantID == targetAccountID {
		return "", time.Time{}, fmt.Errorf("%w: invalid target account", core.ErrInvalidRequest)
	}

	source, err := s.merchants.GetByID(ctx, sourceMerchantID)
	if err != nil {
		return "", time.Time{}, err
	}
	target, err := s.merchants.GetByID(ctx, targetAccountID)
	if err != nil {
		return "", time.Time{}, err
	}
	if source.IsLinkedTo(target.ID) {
		return "", time.Time{}, fmt.Errorf("%w: accounts already linked", core.ErrInvalidRequest)
	}

	now := s.now()
	req := &core.LinkingRequest{
		Token:            uuid.New().String(),
		SourceMerchantID: source.ID,
		TargetMerchantID: target.ID,
		PrimaryRole:      role,
		InitiatedAt:      now,
		ExpiresAt:        now.Add(s.tokenTTL),
	}
	if err := s.links.Put(ctx, req); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store linking request: %w", err)
	}

	if !target.HasPlaceholderEmail() {
		if err := s.email.SendLinkingInvite(ctx, target.Email, source.Name, req.Token); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"merchant_id": source.ID,
				"operation":   "initiate_linking",
			}).Warn("failed to send linking invite")
		}
	}

	return req.Token, req.ExpiresAt, nil
}

// ConfirmLinking redeems a linking token. The confirming merchant must
// be the target the token was issued for; expired or already-consumed
// tokens fail. On success both records gain mutual back-references.
func (s *LinkingService) ConfirmLinking(ctx context.Context, token, confirmingMerchantID string) (*core.Merchant, error) {
	req, err := s.links.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if req.Expired(now) {
		return nil, core.ErrLinkTokenExpired
	}
	if req.Consumed() {
		return nil, core.ErrLinkTokenConsumed
	}
	if req.TargetMerchantID != confirmingMerchantID {
		return nil, core.ErrLinkWrongMerchant
	}

	// Atomic consume decides concurrent redemption races.
	if _, err := s.links.Consume(ctx, token, now); err != nil {
		return nil, err
	}

	source, err := s.merchants.GetByID(ctx, req.SourceMerchantID)
	if err != nil {
		return nil, err
	}
	target, err := s.merchants.GetByID(ctx, req.TargetMerchantID)
	if err != nil {
		return nil, err
	}

	if !source.IsLinkedTo(target.ID) {
		source.LinkedAccountIDs = append(source.LinkedAccountIDs, target.ID)
		if err := s.merchants.Update(ctx, source); err != nil {
			return nil, fmt.Errorf("failed to link source account: %w", err)
		}
	}
	if !target.IsLinkedTo(source.ID) {
		target.LinkedAccountIDs = append(target.LinkedAccountIDs, source.ID)
		if err := s.merchants.Update(ctx, target); err != nil {
			return nil, fmt.Errorf("failed to link target account: %w", err)
		}
	}

	if err := s.events.PublishAccountsLinked(ctx, source.ID, target.ID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_id": source.ID,
			"operation":   "confirm_linking",
		}).Warn("failed to publish accounts.linked event")
	}

	return source, nil
}

// GetLinkedAccounts returns the merchant records linked to merchantID.
func (s *LinkingService) GetLinkedAccounts(ctx context.Context, merchantID string) ([]*core.Merchant, error) {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	accounts := make([]*core.Merchant, 0, len(m.LinkedAccountIDs))
	for _, id := range m.LinkedAccountIDs {
		linked, err := s.merchants.GetByID(ctx, id)
		if err != nil {
			s.logger.WithField("merchant_id", id).Warn("linked account no longer resolvable")
			continue
		}
		accounts = append(accounts, linked)
	}
	return accounts, nil
}

// UnlinkAccounts removes the mutual reference between two merchants.
// Removal is symmetric: either side may unlink and both references go.
func (s *LinkingService) UnlinkAccounts(ctx context.Context, merchantID, otherID string) error {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return err
	}
	if !m.IsLinkedTo(otherID) {
		return core.ErrNotLinked
	}

	m.LinkedAccountIDs = removeID(m.LinkedAccountIDs, otherID)
	if err := s.merchants.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to unlink account: %w", err)
	}

	other, err := s.merchants.GetByID(ctx, otherID)
	if err == nil && other.IsLinkedTo(merchantID) {
		other.LinkedAccountIDs = removeID(other.LinkedAccountIDs, merchantID)
		if err := s.merchants.Update(ctx, other); err != nil {
			return fmt.Errorf("failed to unlink peer account: %w", err)
		}
	}
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
