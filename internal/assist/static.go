package assist

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var pointsRate = decimal.RequireFromString("0.1")

// Static answers every collaborator call with fixed data.
type Static struct {
	Now func() time.Time
}

// Recommend implements Recommender.
func (s Static) Recommend(_ context.Context, q RecommendationQuery) (RecommendationSet, error) {
	items := []Recommendation{
		{ProductID: "fallback_1", Name: "Classic Margherita Pizza", Score: 0.5, Method: "fallback", Reasons: []string{"Popular choice", "Always available"}},
		{ProductID: "fallback_2", Name: "Chicken Caesar Salad", Score: 0.45, Method: "fallback", Reasons: []string{"Healthy option", "Customer favorite"}},
	}
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return RecommendationSet{
		Recommendations: items,
		Metadata: map[string]any{
			"method":           "fallback",
			"confidence_score": 0.3,
			"timestamp":        s.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Quote implements PriceQuoter.
func (Static) Quote(context.Context, PriceQuery) (PriceQuote, error) {
	return PriceQuote{
		OriginalPrice: 19.99,
		DynamicPrice:  22.49,
		PriceChange:   2.50,
		Factors: map[string]float64{
			"demand_surge":    1.50,
			"time_of_day":     0.50,
			"user_preference": 0.50,
		},
	}, nil
}

// Process implements LoyaltyLedger. Points are a tenth of the amount, rounded down.
func (Static) Process(_ context.Context, a LoyaltyAction) (LoyaltyResult, error) {
	return LoyaltyResult{
		PointsEarned: a.Amount.Mul(pointsRate).Floor().IntPart(),
		TotalPoints:  1250,
		NextRewardAt: 1500,
		Tier:         "Gold",
	}, nil
}

// Plan implements RoutePlanner and keeps the requested order.
func (Static) Plan(_ context.Context, r RouteRequest) (Route, error) {
	route := r.DeliveryIDs
	if route == nil {
		route = []string{}
	}
	return Route{
		Route:         route,
		TotalTime:     45,
		TotalDistance: 12.5,
		EstimatedFuel: 2.1,
		CostEstimate:  15.75,
	}, nil
}

// Slots implements SlotFinder.
func (Static) Slots(context.Context, SlotQuery) ([]Slot, error) {
	return []Slot{
		{ID: "slot_1", StartTime: "18:00", EndTime: "19:00", Available: true, Capacity: 5, CurrentOrders: 2},
		{ID: "slot_2", StartTime: "19:00", EndTime: "20:00", Available: true, Capacity: 3, CurrentOrders: 1},
	}, nil
}

// Trending implements TrendSource.
func (Static) Trending(_ context.Context, q TrendingQuery) ([]TrendingItem, error) {
	items := []TrendingItem{
		{ID: "prod_1", Name: "AI-Detected Viral Burger", TrendingScore: 95, OrderCount: 1247, GrowthRate: 234, ImageURL: "/images/trending-burger.jpg"},
		{ID: "prod_2", Name: "Smart Suggested Pizza", TrendingScore: 89, OrderCount: 892, GrowthRate: 156, ImageURL: "/images/trending-pizza.jpg"},
	}
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return items, nil
}

// ParseCommand implements VoiceParser.
func (Static) ParseCommand(context.Context, VoiceCommand) (VoiceIntent, error) {
	return VoiceIntent{
		Command:        "order_status",
		Parameters:     map[string]any{"orderId": "ORD123"},
		Confidence:     0.88,
		ActionRequired: true,
	}, nil
}

// Generate implements ARGenerator.
func (Static) Generate(_ context.Context, _ string, item MenuItem) (ARModel, error) {
	return ARModel{
		ModelURL:  "/ar/models/" + item.ID + ".glb",
		Placement: Placement{Scale: 1},
		Animation: "spin_360",
		Nutrition: Nutrition{Calories: 450, Protein: 25, Carbs: 35, Fat: 18},
	}, nil
}

// Footprint implements FootprintCalculator.
func (Static) Footprint(context.Context, FootprintQuery) (Footprint, error) {
	return Footprint{
		TotalCO2: 2.3,
		Breakdown: map[string]float64{
			"food_production": 1.8,
			"delivery":        0.3,
			"packaging":       0.2,
		},
		Recommendations: []string{
			"Choose eco-friendly packaging",
			"Opt for bicycle delivery",
			"Select local restaurants",
		},
	}, nil
}

// Send implements NotificationSender. Unscheduled notifications are only logged.
func (Static) Send(ctx context.Context, n Notification) (Notification, error) {
	n.Content = fmt.Sprintf("Personalized: %s for user %s", n.Content, n.UserID)
	n.Status = "pending"
	n.AIOptimized = true
	if n.ScheduledFor == "" {
		zerolog.Ctx(ctx).Info().Str("notification_id", n.ID).Str("type", n.Type).Msg("notification_sent")
	}
	return n, nil
}

// Schedule implements DeliveryScheduler.
func (s Static) Schedule(_ context.Context, r ScheduleRequest) (ScheduledDelivery, error) {
	items := r.Items
	if items == nil {
		items = []any{}
	}
	return ScheduledDelivery{
		ID:                "sched_" + strconv.FormatInt(s.now().UnixMilli(), 10),
		UserID:            r.UserID,
		RestaurantID:      r.RestaurantID,
		Items:             items,
		ScheduledDateTime: r.ScheduledDateTime.UTC().Format(time.RFC3339),
		Type:              r.Type,
		Status:            "confirmed",
		ConfirmationCode:  "CONF123456",
	}, nil
}

// Insights implements InsightSource.
func (Static) Insights(context.Context, InsightQuery) (Insights, error) {
	return Insights{
		Summary: "Sales increased 15% week-over-week",
		Trends: []TrendPoint{
			{Date: "2024-01-01", Value: 1200},
			{Date: "2024-01-02", Value: 1350},
		},
		Recommendations: []string{"Increase burger inventory", "Extend evening hours"},
	}, nil
}

func (s Static) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Features lists the assistant capabilities advertised by GET /health.
func Features() map[string]string {
	return map[string]string{
		"recommendations":     "active",
		"voice_processing":    "active",
		"route_optimization":  "active",
		"smart_notifications": "active",
		"dynamic_pricing":     "active",
	}
}
