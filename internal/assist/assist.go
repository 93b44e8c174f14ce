// Package assist fronts the recommendation, voice, AR, pricing, loyalty,
// routing, sustainability, notification, scheduling and analytics
// collaborators. Only fixed stand-in answers live here.
package assist

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Recommendation is one suggested menu item.
type Recommendation struct {
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	Score     float64  `json:"score"`
	Method    string   `json:"method"`
	Reasons   []string `json:"reasons"`
}

// RecommendationSet is the recommender's answer.
type RecommendationSet struct {
	Recommendations []Recommendation `json:"recommendations"`
	Metadata        map[string]any   `json:"metadata"`
}

// RecommendationQuery asks for up to Limit items for a user.
type RecommendationQuery struct {
	UserID  string
	Limit   int
	Context map[string]any
}

// Recommender suggests items for a user.
type Recommender interface {
	Recommend(ctx context.Context, q RecommendationQuery) (RecommendationSet, error)
}

// PriceQuery identifies the item being priced.
type PriceQuery struct {
	ProductID     string
	RestaurantID  string
	CurrentDemand float64
	UserID        string
	TimeOfDay     string
	At            time.Time
}

// PriceQuote is a dynamic price with its contributing factors.
type PriceQuote struct {
	OriginalPrice float64            `json:"originalPrice"`
	DynamicPrice  float64            `json:"dynamicPrice"`
	PriceChange   float64            `json:"priceChange"`
	Factors       map[string]float64 `json:"factors"`
}

// PriceQuoter prices an item for the current demand.
type PriceQuoter interface {
	Quote(ctx context.Context, q PriceQuery) (PriceQuote, error)
}

// LoyaltyAction is a points-earning event.
type LoyaltyAction struct {
	UserID   string
	Action   string
	Amount   decimal.Decimal
	OrderID  string
	Metadata map[string]any
}

// LoyaltyResult reports the user's balance after an action.
type LoyaltyResult struct {
	PointsEarned int64  `json:"pointsEarned"`
	TotalPoints  int64  `json:"totalPoints"`
	NextRewardAt int64  `json:"nextRewardAt"`
	Tier         string `json:"tier"`
}

// LoyaltyLedger books loyalty actions.
type LoyaltyLedger interface {
	Process(ctx context.Context, a LoyaltyAction) (LoyaltyResult, error)
}

// RouteRequest lists deliveries to sequence.
type RouteRequest struct {
	DeliveryIDs   []string
	StartLocation any
	EndLocation   any
	Constraints   map[string]any
}

// Route is an ordered delivery plan.
type Route struct {
	Route         []string `json:"route"`
	TotalTime     int      `json:"totalTime"`
	TotalDistance float64  `json:"totalDistance"`
	EstimatedFuel float64  `json:"estimatedFuel"`
	CostEstimate  float64  `json:"costEstimate"`
}

// RoutePlanner orders deliveries.
type RoutePlanner interface {
	Plan(ctx context.Context, r RouteRequest) (Route, error)
}

// SlotQuery asks for delivery windows at a restaurant.
type SlotQuery struct {
	RestaurantID string
	Date         string
	OrderCount   int
}

// Slot is a scheduled-delivery window.
type Slot struct {
	ID            string `json:"id"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Available     bool   `json:"available"`
	Capacity      int    `json:"capacity"`
	CurrentOrders int    `json:"currentOrders"`
}

// SlotFinder lists delivery windows.
type SlotFinder interface {
	Slots(ctx context.Context, q SlotQuery) ([]Slot, error)
}

// TrendingQuery asks for currently popular items.
type TrendingQuery struct {
	Limit     int
	TimeRange string
}

// TrendingItem is a popular menu item.
type TrendingItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TrendingScore int    `json:"trending_score"`
	OrderCount    int    `json:"order_count"`
	GrowthRate    int    `json:"growth_rate"`
	ImageURL      string `json:"image_url"`
}

// TrendSource reports trending items.
type TrendSource interface {
	Trending(ctx context.Context, q TrendingQuery) ([]TrendingItem, error)
}

// VoiceCommand is transcribed speech to interpret.
type VoiceCommand struct {
	UserID string
	Text   string
}

// VoiceIntent is the interpreted command.
type VoiceIntent struct {
	Command        string         `json:"command"`
	Parameters     map[string]any `json:"parameters"`
	Confidence     float64        `json:"confidence"`
	ActionRequired bool           `json:"action_required"`
}

// VoiceParser turns command text into an intent.
type VoiceParser interface {
	ParseCommand(ctx context.Context, c VoiceCommand) (VoiceIntent, error)
}

// MenuItem identifies a dish to render.
type MenuItem struct {
	ID   string `json:"id" validate:"required,max=128"`
	Name string `json:"name" validate:"max=256"`
}

// Vec3 is a point or rotation in model space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Placement positions a model in the scene.
type Placement struct {
	Position Vec3    `json:"position"`
	Scale    float64 `json:"scale"`
	Rotation Vec3    `json:"rotation"`
}

// Nutrition is the overlay shown next to a model.
type Nutrition struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Carbs    int `json:"carbs"`
	Fat      int `json:"fat"`
}

// ARModel describes a renderable dish.
type ARModel struct {
	ModelURL  string    `json:"model_url"`
	Placement Placement `json:"placement"`
	Animation string    `json:"animation"`
	Nutrition Nutrition `json:"nutrition"`
}

// ARGenerator builds AR models for menu items.
type ARGenerator interface {
	Generate(ctx context.Context, restaurantID string, item MenuItem) (ARModel, error)
}

// FootprintQuery describes an order whose emissions are estimated.
type FootprintQuery struct {
	Items      []any
	DistanceKM float64
	Packaging  string
}

// Footprint is an emissions estimate in kg CO2.
type Footprint struct {
	TotalCO2        float64            `json:"total_co2"`
	Breakdown       map[string]float64 `json:"breakdown"`
	Recommendations []string           `json:"recommendations"`
}

// FootprintCalculator estimates an order's carbon footprint.
type FootprintCalculator interface {
	Footprint(ctx context.Context, q FootprintQuery) (Footprint, error)
}

// Notification is a user-facing message.
type Notification struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Type         string         `json:"type"`
	Content      string         `json:"content"`
	Data         map[string]any `json:"data"`
	Timestamp    string         `json:"timestamp"`
	Status       string         `json:"status"`
	ScheduledFor string         `json:"scheduledFor,omitempty"`
	AIOptimized  bool           `json:"ai_optimized"`
}

// NotificationSender delivers or schedules a notification.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) (Notification, error)
}

// ScheduleRequest books a delivery for later.
type ScheduleRequest struct {
	UserID              string
	RestaurantID        string
	Items               []any
	ScheduledDateTime   time.Time
	Type                string
	SpecialInstructions string
}

// ScheduledDelivery is a confirmed booking.
type ScheduledDelivery struct {
	ID                string `json:"id"`
	UserID            string `json:"userId"`
	RestaurantID      string `json:"restaurantId"`
	Items             []any  `json:"items"`
	ScheduledDateTime string `json:"scheduledDateTime"`
	Type              string `json:"type"`
	Status            string `json:"status"`
	ConfirmationCode  string `json:"confirmationCode"`
}

// DeliveryScheduler books scheduled deliveries.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, r ScheduleRequest) (ScheduledDelivery, error)
}

// InsightQuery selects the analytics window.
type InsightQuery struct {
	TimeRange   string
	Metric      string
	Granularity string
}

// TrendPoint is one sample of a metric.
type TrendPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Insights summarises a metric over a window.
type Insights struct {
	Summary         string       `json:"summary"`
	Trends          []TrendPoint `json:"trends"`
	Recommendations []string     `json:"recommendations"`
}

// InsightSource produces analytics summaries.
type InsightSource interface {
	Insights(ctx context.Context, q InsightQuery) (Insights, error)
}
