package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/foodapp-backend/internal/common"
)

// Handler serves the assist endpoints over the collaborator interfaces.
type Handler struct {
	Recommender Recommender
	Trends      TrendSource
	Voice       VoiceParser
	AR          ARGenerator
	Pricing     PriceQuoter
	Loyalty     LoyaltyLedger
	Routes      RoutePlanner
	Footprints  FootprintCalculator
	Notifier    NotificationSender
	Slots       SlotFinder
	Scheduler   DeliveryScheduler
	Analytics   InsightSource
	Validate    *validator.Validate
	Now         func() time.Time
}

// NewStaticHandler wires every collaborator to the fixed stand-in.
func NewStaticHandler() *Handler {
	s := Static{}
	return &Handler{
		Recommender: s,
		Trends:      s,
		Voice:       s,
		AR:          s,
		Pricing:     s,
		Loyalty:     s,
		Routes:      s,
		Footprints:  s,
		Notifier:    s,
		Slots:       s,
		Scheduler:   s,
		Analytics:   s,
		Validate:    validator.New(),
	}
}

// Mount registers the endpoints on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/ai/recommendations", h.Recommend)
	r.Get("/ai/trending", h.Trending)
	r.Post("/ai/contextual", h.Contextual)
	r.Post("/ai/voice/command", h.VoiceCommand)
	r.Post("/ar/generate", h.GenerateAR)
	r.Post("/pricing/calculate", h.Price)
	r.Post("/loyalty/process", h.ProcessLoyalty)
	r.Post("/routes/optimize", h.OptimizeRoute)
	r.Post("/sustainability/calculate", h.Sustainability)
	r.Post("/notifications/send", h.SendNotification)
	r.Post("/scheduled/create", h.CreateSchedule)
	r.Get("/scheduled/slots", h.ListSlots)
	r.Get("/analytics/insights", h.AnalyticsInsights)
}

type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp,omitempty"`
}

type recommendationRequest struct {
	UserID  string         `json:"userId" validate:"required,max=128"`
	Limit   int            `json:"limit" validate:"omitempty,min=1,max=50"`
	Context map[string]any `json:"context"`
}

// Recommend handles POST /ai/recommendations.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	set, err := h.Recommender.Recommend(r.Context(), RecommendationQuery{UserID: req.UserID, Limit: req.Limit, Context: req.Context})
	if err != nil {
		h.fail(r.Context(), w, err, "recommendation engine error")
		return
	}
	common.JSON(w, http.StatusOK, envelope{Success: true, Data: set, Timestamp: h.now().UTC().Format(time.RFC3339)})
}

// Trending handles GET /ai/trending.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := positiveQueryInt(w, q.Get("limit"), 10, "limit")
	if !ok {
		return
	}
	timeRange := q.Get("timeRange")
	if timeRange == "" {
		timeRange = "7d"
	}
	items, err := h.Trends.Trending(r.Context(), TrendingQuery{Limit: limit, TimeRange: timeRange})
	if err != nil {
		h.fail(r.Context(), w, err, "trending unavailable")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    items,
		"metadata": map[string]string{
			"timeRange":    timeRange,
			"generated_at": h.now().UTC().Format(time.RFC3339),
		},
	})
}

type contextualRequest struct {
	UserID    string `json:"userId" validate:"max=128"`
	TimeOfDay string `json:"timeOfDay" validate:"max=32"`
	Weather   string `json:"weather" validate:"max=64"`
	Location  any    `json:"location"`
	Mood      string `json:"mood" validate:"max=64"`
	Limit     int    `json:"limit" validate:"omitempty,min=1,max=50"`
}

// Contextual handles POST /ai/contextual.
func (h *Handler) Contextual(w http.ResponseWriter, r *http.Request) {
	var req contextualRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = 5
	}
	situation := map[string]any{
		"timeOfDay": req.TimeOfDay,
		"weather":   req.Weather,
		"location":  req.Location,
		"mood":      req.Mood,
		"userId":    req.UserID,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	set, err := h.Recommender.Recommend(r.Context(), RecommendationQuery{UserID: req.UserID, Limit: req.Limit, Context: situation})
	if err != nil {
		h.fail(r.Context(), w, err, "contextual recommendations unavailable")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": set, "context": situation})
}

type voiceCommandRequest struct {
	VoiceText string `json:"voiceText" validate:"required,max=2000"`
	UserID    string `json:"userId" validate:"max=128"`
}

// VoiceCommand handles POST /ai/voice/command.
func (h *Handler) VoiceCommand(w http.ResponseWriter, r *http.Request) {
	var req voiceCommandRequest
	if !h.decode(w, r, &req) {
		return
	}
	intent, err := h.Voice.ParseCommand(r.Context(), VoiceCommand{UserID: req.UserID, Text: req.VoiceText})
	if err != nil {
		h.fail(r.Context(), w, err, "voice processing unavailable")
		return
	}
	common.JSON(w, http.StatusOK, envelope{Success: true, Data: intent})
}

type arRequest struct {
	RestaurantID string     `json:"restaurantId" validate:"max=128"`
	MenuItems    []MenuItem `json:"menuItems" validate:"required,min=1,max=50,dive"`
}

type arItem struct {
	ProductID             string    `json:"productId"`
	ARModel               ARModel   `json:"arModel"`
	PlacementInstructions Placement `json:"placementInstructions"`
	Animation             string    `json:"animation"`
	NutritionalOverlay    Nutrition `json:"nutritionalOverlay"`
}

// GenerateAR handles POST /ar/generate.
func (h *Handler) GenerateAR(w http.ResponseWriter, r *http.Request) {
	var req arRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]arItem, 0, len(req.MenuItems))
	for _, item := range req.MenuItems {
		model, err := h.AR.Generate(r.Context(), req.RestaurantID, item)
		if err != nil {
			h.fail(r.Context(), w, err, "ar generation unavailable")
			return
		}
		items = append(items, arItem{
			ProductID:             item.ID,
			ARModel:               model,
			PlacementInstructions: model.Placement,
			Animation:             model.Animation,
			NutritionalOverlay:    model.Nutrition,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": items, "restaurantId": req.RestaurantID})
}

type priceRequest struct {
	ProductID     string  `json:"productId" validate:"required,max=128"`
	RestaurantID  string  `json:"restaurantId" validate:"max=128"`
	CurrentDemand float64 `json:"currentDemand" validate:"gte=0"`
	UserID        string  `json:"userId" validate:"max=128"`
	TimeOfDay     string  `json:"timeOfDay" validate:"max=32"`
}

// Price handles POST /pricing/calculate.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	quote, err := h.Pricing.Quote(r.Context(), PriceQuery{
		ProductID:     req.ProductID,
		RestaurantID:  req.RestaurantID,
		CurrentDemand: req.CurrentDemand,
		UserID:        req.UserID,
		TimeOfDay:     req.TimeOfDay,
		At:            h.now(),
	})
	if err != nil {
		h.fail(r.Context(), w, err, "pricing unavailable")
		return
	}
	common.JSON(w, http.StatusOK, envelope{Success: true, Data: quote})
}

type loyaltyRequest struct {
	UserID   string          `json:"userId" validate:"required,max=128"`
	Action   string          `json:"action" validate:"required,max=64"`
	Amount   decimal.Decimal `json:"amount"`
	OrderID  string          `json:"orderId" validate:"max=128"`
	Metadata map[string]any  `json:"metadata"`
}

// ProcessLoyalty handles POST /loyalty/process.
func (h *Handler) ProcessLoyalty(w http.ResponseWriter, r *http.Request) {
	var req loyaltyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Amount.IsNegative() {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "amount must not be negative", nil)
		return
	}
	res, err := h.Loyalty.Process(r.Context(), LoyaltyAction{
		UserID:   req.UserID,
		Action:   req.Action,
		Amount:   req.Amount,
		OrderID:  req.OrderID,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.fail(r.Context(), w, err, "loyalty unavailable")
		return
	}
	common.JSON(w, http.StatusOK, envelope{Success: true, Data: res})
}

type routeRequest struct {
	DeliveryIDs   []string       `json:"deliveryIds" validate:"required,min=1,max=100,dive,required"`
	StartLocation any            `json:"startLocation"`
	EndLocation   any            `json:"endLocation"`
	Constraints   map[string]any `json:"constraints"`
}

type routeResponse struct {
	Success           bool    `json:"success"`
	Data              Route   `json:"data"`
	EstimatedTime     int     `json:"estimatedTime"`
	EstimatedDistance float64 `json:"estimatedDistance"`
}

// OptimizeRoute handles POST /routes/optimize.
func (h *Handler) OptimizeRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !h.decode(w, r, &req) {
		return
	}
	route, err := h.Routes.Plan(r.Context(), RouteRequest{
		DeliveryIDs:   req.DeliveryIDs,
		StartLocation: req.StartLocation,
		EndLocation:   req.EndLocation,
		Constraints:   req.Constraints,
	})
	if err != nil {
		h.fail(r.Context(), w, err, "route planner unavailable")
		return
	}
	common.JSON(w, http.StatusOK, routeResponse{
		Success:           true,
		Data:              route,
		EstimatedTime:     route.TotalTime,
		EstimatedDistance: route.TotalDistance,
	})
}

type footprintRequest struct {
	OrderItems       []any   `json:"orderItems" validate:"max=100"`
	DeliveryDistance float64 `json:"deliveryDistance" validate:"gte=0"`
	PackagingType    string  `json:"packagingType" validate:"max=32"`
}

// Sustainability handles POST /sustainability/calculate.
func (h *Handler) Sustainability(w http.ResponseWriter, r *http.Request) {
	var req footprintRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PackagingType == "" {
		req.PackagingType = "standard"
	}
	fp, err := h.Footprints.Footprint(r.Context(), FootprintQuery{
		Items:      req.OrderItems,
		DistanceKM: req.DeliveryDistance,
		Packaging:  req.PackagingType,
	})
	if err != nil {
		h.fail(r.Context(), w, err, "footprint unavailable")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": fp, "recommendations": fp.Recommendations})
}

type notificationRequest struct {
	UserID       string         `json:"userId" validate:"required,max=128"`
	Type         string         `json:"type" validate:"required,max=64"`
	Content      string         `json:"content" validate:"required,max=2000"`
	Data         map[string]any `json:"data"`
	Scheduled    bool           `json:"scheduled"`
	ScheduleTime string         `json:"scheduleTime" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// SendNotification handles POST /notifications/send.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	now := h.now()
	n := Notification{
		ID:        "notif_" + strconv.FormatInt(now.UnixMilli(), 10),
		UserID:    req.UserID,
		Type:      req.Type,
		Content:   req.Content,
		Data:      req.Data,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	if req.Scheduled && req.ScheduleTime != "" {
		n.ScheduledFor = req.ScheduleTime
	}
	sent, err := h.Notifier.Send(r.Context(), n)
	if err != nil {
		h.fail(r.Context(), w, err, "notifications unavailable")
		return
	}
	common.JSON(w, http.StatusOK, envelope{Success: true, Data: sent})
}

type scheduleRequest struct {
	UserID              string `json:"userId" validate:"required,max=128"`
	RestaurantID        string `json:"restaurantId" validate:"required,max=128"`
	Items               []any  `json:"items" validate:"max=100"`
	ScheduledDateTime   string `json:"scheduledDateTime" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Type                string `json:"type" validate:"max=32"`
	SpecialInstructions string `json:"specialInstructions" validate:"max=500"`
}

// CreateSchedule handles POST /scheduled/create.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledDateTime)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "scheduledDateTime must be RFC 3339", nil)
		return
	}
	if req.Type == "" {
		req.Type = "scheduled"
	}
	booking, err := h.Scheduler.Schedule(r.Context(), ScheduleRequest{
		UserID:              req.UserID,
		RestaurantID:        req.RestaurantID,
		Items:               req.Items,
		ScheduledDateTime:   at,
		Type:                req.Type,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		h.fail(r.Context(), w, err, "scheduling unavailable")
		return
	}
	common.JSON(w, http.StatusOK, envelope{Success: true, Data: booking})
}

// AnalyticsInsights handles GET /analytics/insights.
func (h *Handler) AnalyticsInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := InsightQuery{TimeRange: q.Get("timeRange"), Metric: q.Get("metric"), Granularity: q.Get("granularity")}
	if query.TimeRange == "" {
		query.TimeRange = "7d"
	}
	if query.Metric == "" {
		query.Metric = "sales"
	}
	if query.Granularity == "" {
		query.Granularity = "daily"
	}
	insights, err := h.Analytics.Insights(r.Context(), query)
	if err != nil {
		h.fail(r.Context(), w, err, "analytics unavailable")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": insights, "ai_analyzed": true})
}

// ListSlots handles GET /scheduled/slots.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, ok := positiveQueryInt(w, q.Get("orderCount"), 1, "orderCount")
	if !ok {
		return
	}
	slots, err := h.Slots.Slots(r.Context(), SlotQuery{RestaurantID: q.Get("restaurantId"), Date: q.Get("date"), OrderCount: count})
	if err != nil {
		h.fail(r.Context(), w, err, "scheduling unavailable")
		return
	}
	common.JSON(w, http.StatusOK, envelope{Success: true, Data: slots})
}

func positiveQueryInt(w http.ResponseWriter, raw string, fallback int, name string) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", name+" must be a positive integer", nil)
		return 0, false
	}
	return n, true
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid JSON body", nil)
		return false
	}
	if h.Validate == nil {
		h.Validate = validator.New()
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request", nil)
		return false
	}
	return true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	zerolog.Ctx(ctx).Error().Err(err).Msg("assist_collaborator_failed")
	common.JSONError(w, http.StatusBadGateway, "COLLABORATOR_ERROR", msg, nil)
}
