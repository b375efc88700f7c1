// Package storetest содержит in-memory реализацию store.Store для тестов
// сервисов. Уникальные ограничения эмулируются той же ошибкой, что отдает
// PostgreSQL, чтобы ветки идемпотентности проверялись без настоящей базы.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"titan-pay/internal/store"
	"titan-pay/pkg/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation возвращает ошибку, которую store.IsUniqueViolation считает
// нарушением уникального ограничения
func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// Fake реализует store.Store в памяти
type Fake struct {
	mu sync.Mutex

	UsersByID     map[int64]*models.User
	SessionsByID  map[string]*models.PaymentSession
	PurchasesByID map[string]*models.Purchase
	Revenue       []*models.RevenueEvent
	Comms         []*models.Commission
	Affs          map[int64]*models.AffiliateStatus
	Refs          []*models.Referral
	Pkgs          []*models.Package
	AuditRecords  []*models.AuditRecord

	nextRevenueID  int64
	nextCommID     int64
	nextReferralID int64
}

// New создает пустой фейковый Store
func New() *Fake {
	return &Fake{
		UsersByID:     make(map[int64]*models.User),
		SessionsByID:  make(map[string]*models.PaymentSession),
		PurchasesByID: make(map[string]*models.Purchase),
		Affs:          make(map[int64]*models.AffiliateStatus),
	}
}

var _ store.Store = (*Fake)(nil)

// Users возвращает репозиторий пользователей
func (f *Fake) Users() store.UserRepository { return &fakeUsers{f} }

// Sessions возвращает репозиторий платежных сессий
func (f *Fake) Sessions() store.SessionRepository { return &fakeSessions{f} }

// Purchases возвращает репозиторий покупок
func (f *Fake) Purchases() store.PurchaseRepository { return &fakePurchases{f} }

// RevenueEvents возвращает репозиторий событий выручки
func (f *Fake) RevenueEvents() store.RevenueEventRepository { return &fakeRevenue{f} }

// Commissions возвращает репозиторий комиссий
func (f *Fake) Commissions() store.CommissionRepository { return &fakeComms{f} }

// Affiliates возвращает репозиторий аффилиатских статусов
func (f *Fake) Affiliates() store.AffiliateRepository { return &fakeAffs{f} }

// Referrals возвращает репозиторий рефералов
func (f *Fake) Referrals() store.ReferralRepository { return &fakeRefs{f} }

// Packages возвращает репозиторий каталога пакетов
func (f *Fake) Packages() store.PackageRepository { return &fakePkgs{f} }

// Audit возвращает репозиторий аудиторских записей
func (f *Fake) Audit() store.AuditRepository { return &fakeAudit{f} }

// WithTx выполняет fn над тем же хранилищем: откаты здесь не эмулируются,
// тесты проверяют логику сервисов, а не транзакционность PostgreSQL
func (f *Fake) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(f)
}

// DB фейковому хранилищу не нужен
func (f *Fake) DB() *pgxpool.Pool { return nil }

// Close ничего не делает
func (f *Fake) Close() error { return nil }

type fakeUsers struct{ f *Fake }

func (r *fakeUsers) Create(ctx context.Context, user *models.User) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if user.ID == 0 {
		user.ID = int64(len(r.f.UsersByID) + 1)
	}
	r.f.UsersByID[user.ID] = user
	return nil
}

func (r *fakeUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.UsersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUsers) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.UsersByID {
		if u.ReferralCode != nil && *u.ReferralCode == code {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeUsers) SetReferredBy(ctx context.Context, userID, referrerID int64) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.UsersByID[userID]
	if !ok || u.ReferredBy != nil {
		return store.ErrNotFound
	}
	u.ReferredBy = &referrerID
	return nil
}

func (r *fakeUsers) SetReferralCode(ctx context.Context, userID int64, code string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.UsersByID[userID]
	if !ok || u.ReferralCode != nil {
		return store.ErrNotFound
	}
	u.ReferralCode = &code
	return nil
}

func (r *fakeUsers) SetVaultAccount(ctx context.Context, userID int64, vaultAccountID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.UsersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.VaultAccountID = &vaultAccountID
	return nil
}

type fakeSessions struct{ f *Fake }

func openStatus(s models.SessionStatus) bool {
	return s == models.SessionStatusPending || s == models.SessionStatusConfirming || s == models.SessionStatusPartial
}

func (r *fakeSessions) Create(ctx context.Context, session *models.PaymentSession) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	copied := *session
	r.f.SessionsByID[session.ID] = &copied
	return nil
}

func (r *fakeSessions) get(id string) (*models.PaymentSession, error) {
	s, ok := r.f.SessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeSessions) GetByID(ctx context.Context, id string) (*models.PaymentSession, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.get(id)
}

func (r *fakeSessions) GetByIDForUser(ctx context.Context, id string, userID int64) (*models.PaymentSession, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, err := r.get(id)
	if err != nil || s.UserID != userID {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (r *fakeSessions) GetByIDForUpdate(ctx context.Context, id string) (*models.PaymentSession, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.get(id)
}

func (r *fakeSessions) GetByDepositAddress(ctx context.Context, address string) (*models.PaymentSession, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, s := range r.f.SessionsByID {
		if s.DepositAddress == address {
			copied := *s
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeSessions) GetLatestOpenByVault(ctx context.Context, vaultAccountID string) (*models.PaymentSession, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var latest *models.PaymentSession
	for _, s := range r.f.SessionsByID {
		if s.VaultAccountID != vaultAccountID || !openStatus(s.Status) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeSessions) HasOpenForUserTier(ctx context.Context, userID int64, tier string) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, s := range r.f.SessionsByID {
		if s.UserID == userID && strings.EqualFold(s.Tier, tier) && openStatus(s.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSessions) UpdateSettlement(ctx context.Context, session *models.PaymentSession) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	existing, ok := r.f.SessionsByID[session.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Status = session.Status
	existing.CustodianTxID = session.CustodianTxID
	existing.TxHash = session.TxHash
	existing.AmountReceivedUSD = session.AmountReceivedUSD
	existing.AmountReceivedCrypt = session.AmountReceivedCrypt
	existing.UpdatedAt = time.Now()
	return nil
}

func (r *fakeSessions) ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var expired int64
	for _, s := range r.f.SessionsByID {
		if expired >= int64(limit) {
			break
		}
		if s.Status == models.SessionStatusPending && s.ExpiresAt.Before(now) {
			s.Status = models.SessionStatusExpired
			if p, ok := r.f.PurchasesByID[s.PurchaseID]; ok {
				p.Status = models.PurchaseStatusExpired
			}
			expired++
		}
	}
	return expired, nil
}

func (r *fakeSessions) SweepCandidates(ctx context.Context, assetID *string, limit int) ([]*models.PaymentSession, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.PaymentSession
	for _, s := range r.f.SessionsByID {
		if s.Status != models.SessionStatusCompleted {
			continue
		}
		if s.TreasurySweepStatus != nil && *s.TreasurySweepStatus == models.SweepStatusSubmitted {
			continue
		}
		if assetID != nil && s.AssetID != *assetID {
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSessions) UpdateSweep(ctx context.Context, sessionID string, txID *string, status models.SweepStatus, sweepErr *string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.SessionsByID[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	s.TreasurySweepTxID = txID
	s.TreasurySweepStatus = &status
	s.TreasurySweepError = sweepErr
	return nil
}

func (r *fakeSessions) PendingSweepTotals(ctx context.Context) ([]*models.PendingSweepTotal, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	byKey := make(map[string]*models.PendingSweepTotal)
	for _, s := range r.f.SessionsByID {
		if s.Status != models.SessionStatusCompleted {
			continue
		}
		if s.TreasurySweepStatus != nil && *s.TreasurySweepStatus == models.SweepStatusSubmitted {
			continue
		}
		key := s.AssetID + "/" + s.Tier
		t, ok := byKey[key]
		if !ok {
			t = &models.PendingSweepTotal{AssetID: s.AssetID, Tier: s.Tier}
			byKey[key] = t
		}
		t.Sessions++
		t.AmountUSD += s.AmountReceivedUSD
	}
	out := make([]*models.PendingSweepTotal, 0, len(byKey))
	for _, t := range byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

type fakePurchases struct{ f *Fake }

func (r *fakePurchases) Create(ctx context.Context, purchase *models.Purchase) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	purchase.CreatedAt = time.Now()
	copied := *purchase
	r.f.PurchasesByID[purchase.ID] = &copied
	return nil
}

func (r *fakePurchases) GetByID(ctx context.Context, id string) (*models.Purchase, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	p, ok := r.f.PurchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *fakePurchases) UpdateStatus(ctx context.Context, id string, status models.PurchaseStatus) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	p, ok := r.f.PurchasesByID[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

type fakeRevenue struct{ f *Fake }

func (r *fakeRevenue) Create(ctx context.Context, event *models.RevenueEvent) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, e := range r.f.Revenue {
		if e.CustodianTxID == event.CustodianTxID {
			return uniqueViolation("revenue_events_custodian_tx_id_key")
		}
	}
	r.f.nextRevenueID++
	event.ID = r.f.nextRevenueID
	event.CreatedAt = time.Now()
	copied := *event
	r.f.Revenue = append(r.f.Revenue, &copied)
	return nil
}

func (r *fakeRevenue) GetByCustodianTxID(ctx context.Context, custodianTxID string) (*models.RevenueEvent, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, e := range r.f.Revenue {
		if e.CustodianTxID == custodianTxID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeComms struct{ f *Fake }

func (r *fakeComms) Create(ctx context.Context, commission *models.Commission) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, c := range r.f.Comms {
		if c.BeneficiaryUserID == commission.BeneficiaryUserID &&
			c.SourceRevenueEventID == commission.SourceRevenueEventID {
			return uniqueViolation("commissions_beneficiary_event_key")
		}
	}
	r.f.nextCommID++
	commission.ID = r.f.nextCommID
	commission.CreatedAt = time.Now()
	copied := *commission
	r.f.Comms = append(r.f.Comms, &copied)
	return nil
}

func (r *fakeComms) ListByRevenueEvent(ctx context.Context, revenueEventID int64) ([]*models.Commission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Commission
	for _, c := range r.f.Comms {
		if c.SourceRevenueEventID == revenueEventID {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out, nil
}

func (r *fakeComms) ListByBeneficiary(ctx context.Context, beneficiaryUserID int64, limit int) ([]*models.Commission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Commission
	for _, c := range r.f.Comms {
		if c.BeneficiaryUserID == beneficiaryUserID {
			copied := *c
			out = append(out, &copied)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAffs struct{ f *Fake }

func (r *fakeAffs) GetByUserID(ctx context.Context, userID int64) (*models.AffiliateStatus, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	a, ok := r.f.Affs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAffs) Upsert(ctx context.Context, status *models.AffiliateStatus) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	existing, ok := r.f.Affs[status.UserID]
	// Статус никогда не понижается
	if ok && status.TierDepthLimit < existing.TierDepthLimit {
		return nil
	}
	status.UpdatedAt = time.Now()
	copied := *status
	r.f.Affs[status.UserID] = &copied
	return nil
}

type fakeRefs struct{ f *Fake }

func (r *fakeRefs) Create(ctx context.Context, referral *models.Referral) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.Refs {
		if existing.ReferredUserID == referral.ReferredUserID {
			return uniqueViolation("referrals_referred_user_id_key")
		}
	}
	r.f.nextReferralID++
	referral.ID = r.f.nextReferralID
	referral.CreatedAt = time.Now()
	copied := *referral
	r.f.Refs = append(r.f.Refs, &copied)
	return nil
}

func (r *fakeRefs) GetByReferredUserID(ctx context.Context, referredUserID int64) (*models.Referral, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, ref := range r.f.Refs {
		if ref.ReferredUserID == referredUserID {
			copied := *ref
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRefs) UpdateStatus(ctx context.Context, referralID int64, status models.ReferralStatus) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, ref := range r.f.Refs {
		if ref.ID == referralID {
			ref.Status = string(status)
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *fakeRefs) GetStats(ctx context.Context, referrerUserID int64) (*models.ReferralStats, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	stats := &models.ReferralStats{}
	for _, ref := range r.f.Refs {
		if ref.ReferrerUserID != referrerUserID {
			continue
		}
		stats.TotalReferrals++
		if ref.Status == string(models.ReferralStatusActive) {
			stats.ActiveReferrals++
		}
	}
	return stats, nil
}

type fakePkgs struct{ f *Fake }

func (r *fakePkgs) GetAll(ctx context.Context) ([]*models.Package, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := make([]*models.Package, len(r.f.Pkgs))
	copy(out, r.f.Pkgs)
	return out, nil
}

type fakeAudit struct{ f *Fake }

func (r *fakeAudit) Create(ctx context.Context, record *models.AuditRecord) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	record.ID = int64(len(r.f.AuditRecords) + 1)
	record.CreatedAt = time.Now()
	copied := *record
	r.f.AuditRecords = append(r.f.AuditRecords, &copied)
	return nil
}
