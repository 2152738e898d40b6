package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"marketsim/internal/auth"
	"marketsim/internal/chat"
	"marketsim/internal/metrics"
	"marketsim/internal/sim"
	"marketsim/pkg/types"
)

const maxBodyBytes = 1 << 20

type ctxKey int

const identityKey ctxKey = iota

// requireAuth resolves the bearer credential and stores the identity in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Auth", "missing bearer credential")
			return
		}
		id, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Auth", "invalid or expired credential")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	}
}

func identityFrom(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(identityKey).(auth.Identity)
	return id
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for websocket clients.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "malformed JSON body")
		return false
	}
	return true
}

func sanitizeUser(u types.User) types.User {
	u.PasswordHash = ""
	return u
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var p auth.RegisterParams
	if !decodeBody(w, r, &p) {
		return
	}
	u, err := s.auth.Register(r.Context(), p)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sanitizeUser(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if !decodeBody(w, r, &p) {
		return
	}
	if p.Identifier == "" || p.Password == "" {
		writeError(w, http.StatusBadRequest, "Validation", "identifier and password required")
		return
	}
	token, u, err := s.auth.Login(r.Context(), p.Identifier, p.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": sanitizeUser(u)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, err := s.auth.Profile(identityFrom(r).UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeUser(u))
}

// --- chat ---

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	if !id.Role.CanChat() {
		writeError(w, http.StatusForbidden, "RoleNotPermitted", "chat requires tester or admin role")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if limit <= 0 {
		limit = chat.DefaultPageSize
	}
	if limit > 100 {
		limit = 100
	}
	if page < 0 {
		page = 0
	}
	writeJSON(w, http.StatusOK, s.room.History(page*limit, limit))
}

func (s *Server) handleChatPost(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	if !id.Role.CanChat() {
		writeError(w, http.StatusForbidden, "RoleNotPermitted", "chat requires tester or admin role")
		return
	}
	if !s.chatLimiter.Allow(id.UserID) {
		writeError(w, http.StatusTooManyRequests, "RateLimited", "posting too fast")
		return
	}

	var p struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &p) {
		return
	}
	msg, err := s.room.Post(r.Context(), id.UserID, id.DisplayName, p.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// --- bots ---

type botOrderRequest struct {
	BotID    string `json:"bot_id"`
	BotKey   string `json:"bot_key"`
	Symbol   string `json:"symbol"`
	Action   string `json:"action"` // buy|sell|short|cover
	Quantity int64  `json:"quantity"`
}

func (s *Server) handleBotRegister(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Name       string           `json:"name"`
		Mode       types.Mode       `json:"mode"`
		Risk       types.RiskLevel  `json:"riskLevel"`
		Difficulty types.Difficulty `json:"difficulty"`
		Weeks      int              `json:"weeks"`
	}
	if !decodeBody(w, r, &p) {
		return
	}

	cfg := types.GameConfig{
		Mode:           p.Mode,
		Risk:           p.Risk,
		Difficulty:     p.Difficulty,
		Weeks:          p.Weeks,
		CommissionRate: s.cfg.Sim.CommissionRate,
	}.Normalize()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}

	owner := strings.TrimSpace(p.Name)
	if owner == "" {
		owner = "bot"
	}
	sess := s.registry.CreateBot(owner, cfg)
	key := uuid.NewString()
	s.botMu.Lock()
	s.botKeys[sess.ID] = key
	s.botMu.Unlock()
	metrics.SetSessionsActive(s.registry.Len())

	writeJSON(w, http.StatusCreated, map[string]any{
		"bot_id":        sess.ID,
		"bot_key":       key,
		"starting_cash": sim.BotStartingCash,
		"config":        sess.Config(),
	})
}

func (s *Server) handleBotOrder(w http.ResponseWriter, r *http.Request) {
	var p botOrderRequest
	if !decodeBody(w, r, &p) {
		return
	}

	s.botMu.RLock()
	key, known := s.botKeys[p.BotID]
	s.botMu.RUnlock()
	if !known || key != p.BotKey {
		writeError(w, http.StatusUnauthorized, "BadBotKey", "unknown bot id or wrong key")
		return
	}
	sess, ok := s.registry.Get(p.BotID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "BadBotKey", "bot session no longer active")
		return
	}

	trade, err := s.executeOrder(sess, p.Action, p.Symbol, p.Quantity)
	if err != nil {
		re, isReject := sim.AsReject(err)
		switch {
		case !isReject:
			writeError(w, http.StatusInternalServerError, "Internal", "internal error")
		case re == sim.ErrSymbolUnknown:
			metrics.IncOrderRejected(re.Tag)
			writeError(w, http.StatusNotFound, "SymbolUnknown", re.Message)
		case re == sim.ErrInvalidQuantity:
			metrics.IncOrderRejected(re.Tag)
			writeError(w, http.StatusBadRequest, "Validation", re.Message)
		default:
			// Domain rejections are results, not HTTP errors, on this path.
			metrics.IncOrderRejected(re.Tag)
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "rejected",
				"tag":     re.Tag,
				"message": re.Message,
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "filled",
		"trade":  trade,
		"cash":   sess.PortfolioDetails().Cash,
	})
}

func (s *Server) handleBotStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown bot id")
		return
	}

	det := sess.PortfolioDetails()
	writeJSON(w, http.StatusOK, map[string]any{
		"bot_id":         sess.ID,
		"owner":          sess.Owner,
		"day":            det.Day,
		"cash":           det.Cash,
		"total_value":    det.TotalValue,
		"unrealized_pnl": det.UnrealizedPnL,
		"realized_pnl":   det.RealizedPnL,
		"return":         sess.Return(),
		"trades":         len(sess.Trades()),
		"mode":           sess.Config().Mode,
	})
}

// executeOrder dispatches an action verb to the trader and publishes the
// fill.
func (s *Server) executeOrder(sess *sim.Session, action, symbol string, qty int64) (types.Trade, error) {
	var (
		trade types.Trade
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "buy":
		trade, err = s.trader.Buy(sess, symbol, qty)
	case "sell":
		trade, err = s.trader.Sell(sess, symbol, qty)
	case "short", "short_open":
		trade, err = s.trader.OpenShort(sess, symbol, qty)
	case "cover", "short_close":
		trade, err = s.trader.CloseShort(sess, symbol, qty)
	default:
		return types.Trade{}, &sim.RejectError{Tag: "Validation", Message: "action must be buy, sell, short, or cover"}
	}
	if err != nil {
		return types.Trade{}, err
	}

	metrics.IncOrderExecuted(string(trade.Kind))
	s.hub.PublishOrder(types.OrderUpdate{
		SessionID: sess.ID,
		Trade:     trade,
		Cash:      sess.PortfolioDetails().Cash,
		Status:    "filled",
	})
	return trade, nil
}

// --- market & portfolio ---

// resolveSession finds the session addressed by a request: explicit bot_id
// wins, then the caller's primary session.
func (s *Server) resolveSession(r *http.Request) (*sim.Session, bool) {
	if botID := r.URL.Query().Get("bot_id"); botID != "" {
		return s.registry.Get(botID)
	}
	token := bearerToken(r)
	if token == "" {
		return nil, false
	}
	id, err := s.auth.VerifyToken(token)
	if err != nil {
		return nil, false
	}
	return s.registry.Primary(id.UserID)
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveSession(r)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no addressable session")
		return
	}

	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		withHistory := r.URL.Query().Get("history") == "true"
		q, ok := sess.Quote(symbol, withHistory)
		if !ok {
			writeError(w, http.StatusNotFound, "NotFound", "symbol not in catalog")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"day": sess.DayCount(), "quote": q})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"day":    sess.DayCount(),
		"quotes": sess.MarketSnapshot(),
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveSession(r)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no addressable session")
		return
	}
	writeJSON(w, http.StatusOK, sess.PortfolioDetails())
}

// --- saves ---

func (s *Server) handleSaveCreate(w http.ResponseWriter, r *http.Request) {
	code, err := s.saves.CreateCode(r.Context())
	if err != nil {
		writeSaveError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

func (s *Server) handleSaveGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.saves.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeSaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSavePut(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Preset   string          `json:"preset"`
		Snapshot json.RawMessage `json:"snapshot"`
	}
	if !decodeBody(w, r, &p) {
		return
	}

	snapshot := p.Snapshot
	if len(snapshot) == 0 {
		// No body supplied: capture the caller's primary session.
		sess, ok := s.registry.Primary(identityFrom(r).UserID)
		if !ok {
			writeError(w, http.StatusNotFound, "NotFound", "no active session to snapshot")
			return
		}
		data, err := json.Marshal(sess.Capture())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Internal", "snapshot encode failure")
			return
		}
		snapshot = data
	} else if _, err := sim.DecodeSnapshot(snapshot); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "snapshot does not match schema: "+err.Error())
		return
	}

	code := chi.URLParam(r, "code")
	if err := s.saves.Put(r.Context(), code, p.Preset, snapshot); err != nil {
		writeSaveError(w, err)
		return
	}
	info, err := s.saves.Get(r.Context(), code)
	if err != nil {
		writeSaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSavePresetGet(w http.ResponseWriter, r *http.Request) {
	raw, err := s.saves.GetPreset(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "name"))
	if err != nil {
		writeSaveError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleSavePresetDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.saves.DeletePreset(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "name")); err != nil {
		writeSaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- sessions ---

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var cfg types.GameConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if cfg.MarginMultiplier == 0 {
		cfg.MarginMultiplier = s.cfg.Sim.MarginMultiplier
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}

	sess := s.registry.CreateHuman(identityFrom(r).UserID, cfg, s.cfg.Sim.Speed)
	metrics.SetSessionsActive(s.registry.Len())
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"config":     sess.Config(),
		"day":        sess.DayCount(),
	})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Primary(identityFrom(r).UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no active session")
		return
	}
	resp := map[string]any{
		"session_id": sess.ID,
		"config":     sess.Config(),
		"day":        sess.DayCount(),
		"portfolio":  sess.PortfolioDetails(),
		"mode":       sess.ModeInfo(),
		"trades":     sess.Trades(),
	}
	if sess.Config().Mode == types.ModePortfolio {
		resp["allocation"] = sess.CurrentAllocation()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Primary(identityFrom(r).UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no active session")
		return
	}

	var p struct {
		Symbol   string `json:"symbol"`
		Action   string `json:"action"`
		Quantity int64  `json:"quantity"`
	}
	if !decodeBody(w, r, &p) {
		return
	}

	trade, err := s.executeOrder(sess, p.Action, p.Symbol, p.Quantity)
	if err != nil {
		if re, ok := sim.AsReject(err); ok {
			metrics.IncOrderRejected(re.Tag)
		}
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "filled",
		"trade":  trade,
		"cash":   sess.PortfolioDetails().Cash,
	})
}

func (s *Server) handleSessionSpeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Primary(identityFrom(r).UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no active session")
		return
	}

	var p struct {
		Speed float64 `json:"speed"`
	}
	if !decodeBody(w, r, &p) {
		return
	}
	if p.Speed < sim.MinSpeed || p.Speed > sim.MaxSpeed {
		writeError(w, http.StatusBadRequest, "Validation", "speed must be in [0.1, 10]")
		return
	}
	sess.SetSpeed(p.Speed)
	writeJSON(w, http.StatusOK, map[string]any{
		"speed":       p.Speed,
		"interval_ms": sess.Interval().Milliseconds(),
	})
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Primary(identityFrom(r).UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no active session")
		return
	}
	ret := sess.Return()
	s.registry.Remove(sess.ID)
	metrics.SetSessionsActive(s.registry.Len())
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}

func (s *Server) handleSessionRestore(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Code   string `json:"code"`
		Preset string `json:"preset"`
	}
	if !decodeBody(w, r, &p) {
		return
	}

	preset := p.Preset
	if preset == "" {
		info, err := s.saves.Get(r.Context(), p.Code)
		if err != nil {
			writeSaveError(w, err)
			return
		}
		if info.ActivePreset == "" {
			writeError(w, http.StatusNotFound, "NotFound", "save code has no presets")
			return
		}
		preset = info.ActivePreset
	}

	raw, err := s.saves.GetPreset(r.Context(), p.Code, preset)
	if err != nil {
		writeSaveError(w, err)
		return
	}
	snap, err := sim.DecodeSnapshot(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "snapshot does not match schema: "+err.Error())
		return
	}

	sess, err := sim.Restore(snap, s.catalog, identityFrom(r).UserID, s.cfg.Sim.Speed, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	s.registry.Adopt(sess)
	metrics.SetSessionsActive(s.registry.Len())

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"config":     sess.Config(),
		"day":        sess.DayCount(),
	})
}

// --- health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"sessions":       s.registry.Len(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}
