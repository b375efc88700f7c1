// Package api содержит HTTP-обработчики клиентского API.
// Аутентификация живет во внешнем шлюзе: сюда запрос приходит уже
// с проверенным идентификатором пользователя в заголовке X-User-ID.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"titan-pay/internal/catalog"
	"titan-pay/internal/commission"
	"titan-pay/internal/referral"
	"titan-pay/internal/session"
	"titan-pay/internal/store"
	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// TreasuryService интерфейс чтения очереди и запуска подбора средств
type TreasuryService interface {
	PendingTotals(ctx context.Context) ([]*models.PendingSweepTotal, error)
	SweepBatch(ctx context.Context, assetID *string) ([]*models.SweepOutcome, error)
}

// Handler обрабатывает HTTP запросы клиентского API
type Handler struct {
	sessions  *session.Service
	referrals *referral.Service
	engine    *commission.Engine
	treasury  TreasuryService
	store     store.Store
	catalog   *catalog.Catalog
	logger    *zap.Logger
}

// NewHandler создает новый обработчик API
func NewHandler(sessions *session.Service, referrals *referral.Service, engine *commission.Engine, treasury TreasuryService, st store.Store, cat *catalog.Catalog, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		referrals: referrals,
		engine:    engine,
		treasury:  treasury,
		store:     st,
		catalog:   cat,
		logger:    logger,
	}
}

// Register регистрирует маршруты API на мультиплексоре
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/packages", h.ListPackages)
	mux.HandleFunc("POST /api/v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("GET /api/v1/commissions", h.ListCommissions)
	mux.HandleFunc("GET /api/v1/commissions/simulate", h.SimulateCommissions)
	mux.HandleFunc("GET /api/v1/referrals/code", h.GetReferralCode)
	mux.HandleFunc("POST /api/v1/referrals/attach", h.AttachReferral)
	mux.HandleFunc("GET /api/v1/referrals/stats", h.GetReferralStats)
	mux.HandleFunc("GET /api/v1/treasury/sweeps", h.GetSweepQueue)
	mux.HandleFunc("POST /api/v1/treasury/sweeps", h.RunSweep)
}

// userID извлекает идентификатор пользователя из заголовка запроса
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusUnauthorized, "требуется заголовок X-User-ID")
		return 0, false
	}
	return id, true
}

// writeJSON сериализует ответ
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("ошибка сериализации ответа", zap.Error(err))
	}
}

// writeError отправляет ошибку в едином формате
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// ListPackages возвращает каталог пакетов
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.catalog.All())
}

// CreateSessionRequest представляет запрос создания платежной сессии
type CreateSessionRequest struct {
	Tier    string `json:"tier"`
	AssetID string `json:"asset_id"`
}

// CreateSession создает платежную сессию для покупки или апгрейда пакета
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if req.Tier == "" || req.AssetID == "" {
		h.writeError(w, http.StatusBadRequest, "tier и asset_id обязательны")
		return
	}

	created, err := h.sessions.Create(r.Context(), userID, req.Tier, req.AssetID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUnknownTier),
			errors.Is(err, session.ErrTierNotAvailable),
			errors.Is(err, session.ErrUnsupportedAsset),
			errors.Is(err, session.ErrNotUpgrade):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, session.ErrOpenSessionExists):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, store.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "пользователь не найден")
		default:
			h.logger.Error("ошибка создания сессии", zap.Error(err), zap.Int64("user_id", userID))
			h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, created.StatusView())
}

// GetSession возвращает статус сессии ее владельцу
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	view, err := h.sessions.GetStatus(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "сессия не найдена")
			return
		}
		h.logger.Error("ошибка получения сессии", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// ListCommissions возвращает начисления пользователя
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	commissions, err := h.store.Commissions().ListByBeneficiary(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("ошибка получения комиссий", zap.Error(err), zap.Int64("user_id", userID))
		h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	h.writeJSON(w, http.StatusOK, commissions)
}

// SimulateCommissions возвращает предпросмотр распределения комиссий
// для гипотетической покупки текущего пользователя
func (h *Handler) SimulateCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	tier := r.URL.Query().Get("tier")
	if tier == "" {
		h.writeError(w, http.StatusBadRequest, "параметр tier обязателен")
		return
	}
	isUpgrade := r.URL.Query().Get("upgrade") == "true"

	result, err := h.engine.Simulate(r.Context(), h.store.Users(), h.store.Affiliates(), userID, tier, isUpgrade)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "пользователь не найден")
			return
		}
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetReferralCode возвращает (при необходимости выдавая) реферальный код
func (h *Handler) GetReferralCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	code, err := h.referrals.GetOrGenerateReferralCode(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "пользователь не найден")
			return
		}
		h.logger.Error("ошибка выдачи реферального кода", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"referral_code": code})
}

// AttachReferralRequest представляет запрос привязки к рефереру
type AttachReferralRequest struct {
	Code string `json:"code"`
}

// AttachReferral привязывает текущего пользователя к рефереру по коду
func (h *Handler) AttachReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req AttachReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "параметр code обязателен")
		return
	}

	created, err := h.referrals.AttachByCode(r.Context(), userID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, referral.ErrInvalidCode):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, referral.ErrSelfReferral):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, referral.ErrAlreadyInvited):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("ошибка привязки реферала", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// GetReferralStats возвращает статистику рефералов пользователя
func (h *Handler) GetReferralStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	stats, err := h.referrals.GetReferralStats(r.Context(), userID)
	if err != nil {
		h.logger.Error("ошибка получения статистики рефералов", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// GetSweepQueue возвращает агрегаты очереди подбора средств
func (h *Handler) GetSweepQueue(w http.ResponseWriter, r *http.Request) {
	totals, err := h.treasury.PendingTotals(r.Context())
	if err != nil {
		h.logger.Error("ошибка чтения очереди подбора", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	h.writeJSON(w, http.StatusOK, totals)
}

// RunSweep запускает пакет подбора средств вручную.
// Необязательный параметр asset ограничивает подбор одним активом.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var assetID *string
	if raw := r.URL.Query().Get("asset"); raw != "" {
		assetID = &raw
	}

	outcomes, err := h.treasury.SweepBatch(r.Context(), assetID)
	if err != nil {
		h.logger.Error("ошибка запуска подбора", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	h.writeJSON(w, http.StatusOK, outcomes)
}
