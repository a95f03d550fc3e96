// internal/handlers/api.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/auth"
	"github.com/rag2504/tambola/internal/middleware"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/room"
	"github.com/sirupsen/logrus"
)

// Accounts is the account and wallet view the HTTP API needs.
type Accounts interface {
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	CreatePlayer(ctx context.Context, p *models.Player, email string) error
	Balance(ctx context.Context, playerID uuid.UUID) (int64, error)
	Credit(ctx context.Context, playerID uuid.UUID, amount int64, reason string) (int64, error)
	Record(ctx context.Context, tx *models.Transaction) error
	ListTransactions(ctx context.Context, playerID uuid.UUID, limit int) ([]models.Transaction, error)
}

// API serves the REST surface of the room server.
type API struct {
	Registry *room.Registry
	Accounts Accounts
	Hub      *Hub
	Log      logrus.FieldLogger
	// AllowedOrigins feeds both CORS and the websocket origin check.
	AllowedOrigins []string
}

type playerKey struct{}

func playerFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(playerKey{}).(uuid.UUID)
	return id
}

// NewRouter mounts the API, the websocket endpoint and request logging.
func (a *API) NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(a.Log))
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/ws", RoomWSHandler(a.Log, a.Registry, a.Hub, a.originPatterns()))

	r.Route("/api", func(r chi.Router) {
		r.Post("/players", a.createPlayer)
		r.Get("/rooms", a.listRooms)
		r.Get("/rooms/code/{code}", a.getRoomByCode)
		r.Get("/rooms/{room_id}", a.getRoom)
		r.Get("/rooms/{room_id}/winners", a.winners)

		r.Group(func(r chi.Router) {
			r.Use(a.requirePlayer)
			r.Get("/players/me", a.me)
			r.Get("/wallet/balance", a.balance)
			r.Post("/wallet/add-money", a.addMoney)
			r.Get("/wallet/transactions", a.transactions)
			r.Post("/rooms", a.createRoom)
			r.Post("/rooms/{room_id}/join", a.joinRoom)
			r.Post("/rooms/{room_id}/leave", a.leaveRoom)
			r.Post("/rooms/{room_id}/tickets", a.purchaseTickets)
			r.Get("/rooms/{room_id}/tickets/mine", a.myTickets)
			r.Post("/rooms/{room_id}/start", a.startGame)
			r.Post("/rooms/{room_id}/call", a.callNumber)
			r.Post("/rooms/{room_id}/claims", a.claimPrize)
			r.Post("/rooms/{room_id}/cancel", a.cancelRoom)
		})
	})
	return r
}

// originPatterns converts CORS origins to websocket host patterns.
func (a *API) originPatterns() []string {
	out := make([]string, 0, len(a.AllowedOrigins))
	for _, o := range a.AllowedOrigins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, o)
	}
	return out
}

// requirePlayer authenticates a bearer token or auth_token cookie.
func (a *API) requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			if c, err := r.Cookie("auth_token"); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			http.Error(w, "missing auth token", http.StatusUnauthorized)
			return
		}
		playerID, err := auth.AuthenticateJWT(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), playerKey{}, playerID)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a room error kind to an HTTP status.
func statusFor(kind room.Kind) int {
	switch kind {
	case room.KindValidation:
		return http.StatusBadRequest
	case room.KindForbidden:
		return http.StatusForbidden
	case room.KindConflict:
		return http.StatusConflict
	case room.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case room.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, msg := describe(err)
	if kind == room.KindInternal {
		a.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, statusFor(kind), map[string]string{"code": kind.String(), "error": msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &room.Error{Kind: room.KindValidation, Msg: "bad request payload"}
	}
	return nil
}

func roomIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "room_id"))
	if err != nil {
		return uuid.Nil, &room.Error{Kind: room.KindValidation, Msg: "invalid room_id"}
	}
	return id, nil
}

// session resolves the live session named in the path.
func (a *API) session(r *http.Request) (*room.Session, error) {
	id, err := roomIDParam(r)
	if err != nil {
		return nil, err
	}
	if s, err := a.Registry.Get(id); err == nil {
		return s, nil
	}
	// closed rooms exist in the store but accept no commands
	if _, _, err := a.Registry.Lookup(r.Context(), id); err != nil {
		return nil, err
	}
	return nil, room.ErrRoomClosed
}

type createPlayerRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarRef string `json:"profile_pic"`
}

// createPlayer registers an account and returns a token for it.
func (a *API) createPlayer(w http.ResponseWriter, r *http.Request) {
	var req createPlayerRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = "Guest"
	}
	if utf8.RuneCountInString(req.Name) > 50 {
		a.writeError(w, r, &room.Error{Kind: room.KindValidation, Msg: "name must be at most 50 characters"})
		return
	}
	p := &models.Player{Name: req.Name, AvatarRef: req.AvatarRef}
	if err := a.Accounts.CreatePlayer(r.Context(), p, req.Email); err != nil {
		a.writeError(w, r, err)
		return
	}
	token, err := auth.CreateJWT(p.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusCreated, map[string]any{"player": p, "token": token})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id := playerFrom(r.Context())
	p, err := a.Accounts.GetPlayer(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	bal, err := a.Accounts.Balance(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"player": p, "balance": bal})
}

func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	bal, err := a.Accounts.Balance(r.Context(), playerFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": bal})
}

// maxTopUp bounds a single add-money request.
const maxTopUp = 1_000_000

type addMoneyRequest struct {
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

// addMoney credits the caller's wallet directly. There is no payment gateway behind it.
func (a *API) addMoney(w http.ResponseWriter, r *http.Request) {
	var req addMoneyRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.Amount <= 0 || req.Amount > maxTopUp {
		a.writeError(w, r, &room.Error{Kind: room.KindValidation, Msg: "amount must be 1 to 1000000"})
		return
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = "manual"
	}

	playerID := playerFrom(r.Context())
	p, err := a.Accounts.GetPlayer(r.Context(), playerID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if p.Banned {
		a.writeError(w, r, room.ErrBanned)
		return
	}
	reason := "Added money via " + method
	bal, err := a.Accounts.Credit(r.Context(), playerID, req.Amount, reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tx := &models.Transaction{
		PlayerID:     playerID,
		Amount:       req.Amount,
		Type:         models.TransactionCredit,
		Reason:       reason,
		BalanceAfter: bal,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.Accounts.Record(r.Context(), tx); err != nil {
		// the credit stands; only the history line is missing
		a.Log.WithError(err).WithField("player", playerID).Error("record top-up")
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": bal, "transaction": tx})
}

func (a *API) transactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			a.writeError(w, r, &room.Error{Kind: room.KindValidation, Msg: "limit must be 1 to 200"})
			return
		}
		limit = n
	}
	txs, err := a.Accounts.ListTransactions(r.Context(), playerFrom(r.Context()), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

type createRoomRequest struct {
	Name            string               `json:"name"`
	Type            models.RoomType      `json:"room_type"`
	Password        string               `json:"password"`
	TicketPrice     int64                `json:"ticket_price"`
	MinPlayers      int                  `json:"min_players"`
	MaxPlayers      int                  `json:"max_players"`
	Prizes          []models.PrizeConfig `json:"prizes"`
	AutoCallSeconds int                  `json:"auto_call_seconds"`
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.Registry.Create(r.Context(), room.CreateRoomParams{
		HostID:           playerFrom(r.Context()),
		Name:             req.Name,
		Type:             req.Type,
		Password:         req.Password,
		TicketPrice:      req.TicketPrice,
		MinPlayers:       req.MinPlayers,
		MaxPlayers:       req.MaxPlayers,
		Prizes:           req.Prizes,
		AutoCallInterval: time.Duration(req.AutoCallSeconds) * time.Second,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Room())
}

var listableStatuses = []models.RoomStatus{
	models.RoomWaiting, models.RoomActive, models.RoomCompleted, models.RoomCancelled,
}

func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := room.RoomFilter{Type: models.RoomType(q.Get("type"))}
	if f.Type != "" && f.Type != models.RoomPublic && f.Type != models.RoomPrivate {
		a.writeError(w, r, &room.Error{Kind: room.KindValidation, Msg: "unknown room type"})
		return
	}
	if v := q.Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			status := models.RoomStatus(strings.TrimSpace(st))
			if !slices.Contains(listableStatuses, status) {
				a.writeError(w, r, &room.Error{Kind: room.KindValidation, Msg: "unknown room status"})
				return
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			a.writeError(w, r, &room.Error{Kind: room.KindValidation, Msg: "limit must be positive"})
			return
		}
		f.Limit = n
	}
	rooms, err := a.Registry.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rm, _, err := a.Registry.Lookup(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (a *API) getRoomByCode(w http.ResponseWriter, r *http.Request) {
	s, err := a.Registry.FindByCode(chi.URLParam(r, "code"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Room())
}

func (a *API) winners(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ws, err := a.Registry.Winners(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ws == nil {
		ws = []models.Winner{}
	}
	writeJSON(w, http.StatusOK, ws)
}

func (a *API) myTickets(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ts, err := a.Registry.PlayerTickets(r.Context(), id, playerFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ts == nil {
		ts = []*models.Ticket{}
	}
	writeJSON(w, http.StatusOK, ts)
}

type joinRequest struct {
	Password string `json:"password"`
}

func (a *API) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	playerID := playerFrom(r.Context())
	if _, err := s.Join(r.Context(), playerID, req.Password); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": s.Room(), "tickets": s.TicketsFor(playerID)})
}

func (a *API) leaveRoom(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := s.Leave(r.Context(), playerFrom(r.Context())); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type purchaseRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) purchaseTickets(w http.ResponseWriter, r *http.Request) {
	req := purchaseRequest{Quantity: 1}
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ts, err := s.PurchaseTickets(r.Context(), playerFrom(r.Context()), req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ts)
}

func (a *API) startGame(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := s.Start(r.Context(), playerFrom(r.Context())); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Room())
}

type callRequest struct {
	Number *int `json:"number"`
}

func (a *API) callNumber(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	n, err := s.CallNumber(r.Context(), playerFrom(r.Context()), req.Number)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": n, "remaining": s.Room().Remaining()})
}

type claimRequest struct {
	TicketID uuid.UUID `json:"ticket_id"`
	Prize    string    `json:"prize_type"`
}

func (a *API) claimPrize(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	win, err := s.ClaimPrize(r.Context(), playerFrom(r.Context()), req.TicketID, req.Prize)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, win)
}

func (a *API) cancelRoom(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := s.Cancel(r.Context(), playerFrom(r.Context())); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
