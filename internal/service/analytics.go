package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// UpcomingLimit is how many upcoming leaves the owner report lists.
const UpcomingLimit = 5

// MonitoringWindowMonths is the look-back of the admin risk report.
const MonitoringWindowMonths = 3

// MonthStats is one entry of the monthly breakdown.
type MonthStats struct {
	Month            int    `json:"month"`
	Name             string `json:"name"`
	LeaveDays        int    `json:"leaveDays"`
	ServingDays      int    `json:"servingDays"`
	EstimatedSavings int64  `json:"estimatedSavings"`
}

// OwnerAnalytics is the yearly report for a mess owner.
type OwnerAnalytics struct {
	MessID           uint64                  `json:"messId"`
	Year             int                     `json:"year"`
	TotalLeaves      int                     `json:"totalLeaves"`
	TotalLeaveDays   int                     `json:"totalLeaveDays"`
	TotalServingDays int                     `json:"totalServingDays"`
	TotalSavings     int64                   `json:"totalSavings"`
	LeavesByType     map[model.LeaveType]int `json:"leavesByType"`
	MonthlyBreakdown []MonthStats            `json:"monthlyBreakdown"`
	UpcomingLeaves   []model.Leave           `json:"upcomingLeaves"`
}

// RiskLevel classifies how often a user schedules leaves.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// UserRisk is the per-creator row of the monitoring report.
type UserRisk struct {
	UserID         uint64    `json:"userId"`
	LeaveCount     int       `json:"leaveCount"`
	TotalDays      int       `json:"totalDays"`
	AverageGapDays *float64  `json:"averageGapDays"`
	RiskLevel      RiskLevel `json:"riskLevel"`
}

// Alert flags a high-risk user.
type Alert struct {
	UserID   uint64    `json:"userId"`
	Type     string    `json:"type"`
	Severity RiskLevel `json:"severity"`
	Message  string    `json:"message"`
}

// MonitoringReport is the admin risk report.
type MonitoringReport struct {
	MessID      uint64     `json:"messId"`
	PeriodStart time.Time  `json:"periodStart"`
	PeriodEnd   time.Time  `json:"periodEnd"`
	TotalLeaves int        `json:"totalLeaves"`
	Users       []UserRisk `json:"users"`
	Alerts      []Alert    `json:"alerts"`
}

// AnalyticsService builds the read-only reports.  Reports are recomputed on
// every call; the HTTP layer caches responses.
type AnalyticsService struct {
	leaves LeaveStore
	messes *MessResolver
	log    zerolog.Logger
	now    func() time.Time
}

// NewAnalyticsService returns the report builder.
func NewAnalyticsService(leaves LeaveStore, messes *MessResolver, log zerolog.Logger) *AnalyticsService {
	return &AnalyticsService{
		leaves: leaves,
		messes: messes,
		log:    log.With().Str("component", "analytics").Logger(),
		now:    time.Now,
	}
}

func daysInMonth(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func daysInYear(year int) int {
	return model.DaysInclusive(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC))
}

// clippedDays counts the days of [start, end] inside [from, to].
func clippedDays(start, end, from, to time.Time) int {
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if start.After(end) {
		return 0
	}
	return model.DaysInclusive(start, end)
}

// OwnerReport builds the analytics of the owner's mess for the current year.
func (s *AnalyticsService) OwnerReport(ctx context.Context, ownerID uint64) (*OwnerAnalytics, error) {
	mess, err := s.messes.ForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	year := now.Year()
	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)

	leaves, err := s.leaves.ListByMessInRange(ctx, mess.ID, from, to, model.OccupyingStatuses)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	upcoming, err := s.leaves.ListUpcoming(ctx, mess.ID, model.DateOf(now), UpcomingLimit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming leaves: %w", err)
	}
	for i := range upcoming {
		upcoming[i].EffectiveStatus = model.DeriveStatus(&upcoming[i], now)
	}
	rep := buildOwnerAnalytics(year, leaves, s.log)
	rep.MessID = mess.ID
	rep.UpcomingLeaves = upcoming
	return rep, nil
}

// buildOwnerAnalytics aggregates leaves over the calendar year.  A leave
// with an inverted range is skipped and logged instead of failing the
// whole report.
func buildOwnerAnalytics(year int, leaves []model.Leave, log zerolog.Logger) *OwnerAnalytics {
	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
	rep := &OwnerAnalytics{
		Year:             year,
		LeavesByType:     map[model.LeaveType]int{},
		MonthlyBreakdown: make([]MonthStats, 12),
		UpcomingLeaves:   []model.Leave{},
	}
	for i := range rep.MonthlyBreakdown {
		m := time.Month(i + 1)
		rep.MonthlyBreakdown[i] = MonthStats{Month: i + 1, Name: m.String()}
	}

	for _, l := range leaves {
		start, end := model.DateOf(l.StartDate), model.DateOf(l.EndDate)
		if l.StartDate.IsZero() || l.EndDate.IsZero() || start.After(end) {
			log.Warn().Uint64("leave_id", l.ID).
				Time("start_date", l.StartDate).Time("end_date", l.EndDate).
				Msg("skipping malformed leave in analytics")
			continue
		}
		days := clippedDays(start, end, from, to)
		if days == 0 {
			continue
		}
		rep.TotalLeaves++
		rep.TotalLeaveDays += days
		rep.LeavesByType[l.LeaveType]++
		for i := range rep.MonthlyBreakdown {
			m := time.Month(i + 1)
			mFrom := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
			mTo := time.Date(year, m, daysInMonth(year, m), 0, 0, 0, 0, time.UTC)
			rep.MonthlyBreakdown[i].LeaveDays += clippedDays(start, end, mFrom, mTo)
		}
		if start.Year() == year {
			rep.MonthlyBreakdown[start.Month()-1].EstimatedSavings += l.EstimatedSavings
			rep.TotalSavings += l.EstimatedSavings
		}
	}

	for i := range rep.MonthlyBreakdown {
		ms := &rep.MonthlyBreakdown[i]
		ms.ServingDays = daysInMonth(year, time.Month(ms.Month)) - ms.LeaveDays
		if ms.ServingDays < 0 {
			ms.ServingDays = 0
		}
	}
	rep.TotalServingDays = daysInYear(year) - rep.TotalLeaveDays
	if rep.TotalServingDays < 0 {
		rep.TotalServingDays = 0
	}
	return rep
}

// ClassifyRisk applies the frequent-leave rule.  avgGap is nil when fewer
// than two leaves exist.
func ClassifyRisk(count int, avgGap *float64) RiskLevel {
	switch {
	case count >= 8 || (avgGap != nil && *avgGap < 7):
		return RiskHigh
	case count >= 5 || (avgGap != nil && *avgGap < 14):
		return RiskMedium
	default:
		return RiskLow
	}
}

// Monitoring builds the risk report of the last three months for the mess
// the caller acts on.
func (s *AnalyticsService) Monitoring(ctx context.Context, actorID uint64, role model.Role, messID uint64) (*MonitoringReport, error) {
	mess, err := s.messes.ForActor(ctx, actorID, role, messID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	since := now.AddDate(0, -MonitoringWindowMonths, 0)
	leaves, err := s.leaves.ListCreatedSince(ctx, mess.ID, since)
	if err != nil {
		return nil, fmt.Errorf("list recent leaves: %w", err)
	}
	rep := buildMonitoringReport(leaves)
	rep.MessID = mess.ID
	rep.PeriodStart = since
	rep.PeriodEnd = now
	if len(rep.Alerts) > 0 {
		s.log.Warn().Uint64("mess_id", mess.ID).Int("alerts", len(rep.Alerts)).Msg("frequent leave alerts raised")
	}
	return rep, nil
}

func buildMonitoringReport(leaves []model.Leave) *MonitoringReport {
	byUser := map[uint64][]model.Leave{}
	var order []uint64
	for _, l := range leaves {
		if _, ok := byUser[l.CreatedBy]; !ok {
			order = append(order, l.CreatedBy)
		}
		byUser[l.CreatedBy] = append(byUser[l.CreatedBy], l)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	rep := &MonitoringReport{TotalLeaves: len(leaves), Users: []UserRisk{}, Alerts: []Alert{}}
	for _, uid := range order {
		ls := byUser[uid]
		sort.Slice(ls, func(i, j int) bool { return ls[i].CreatedAt.Before(ls[j].CreatedAt) })
		row := UserRisk{UserID: uid, LeaveCount: len(ls)}
		for _, l := range ls {
			if !l.StartDate.After(l.EndDate) {
				row.TotalDays += l.Days()
			}
		}
		if len(ls) >= 2 {
			var sum float64
			for i := 1; i < len(ls); i++ {
				sum += ls[i].CreatedAt.Sub(ls[i-1].CreatedAt).Hours() / 24
			}
			avg := sum / float64(len(ls)-1)
			row.AverageGapDays = &avg
		}
		row.RiskLevel = ClassifyRisk(row.LeaveCount, row.AverageGapDays)
		rep.Users = append(rep.Users, row)
		if row.RiskLevel == RiskHigh {
			rep.Alerts = append(rep.Alerts, Alert{
				UserID:   uid,
				Type:     "frequent_leaves",
				Severity: RiskHigh,
				Message:  alertMessage(row),
			})
		}
	}
	return rep
}

func alertMessage(r UserRisk) string {
	if r.AverageGapDays != nil {
		return fmt.Sprintf("User %d scheduled %d leaves in the last %d months (average gap %.1f days)",
			r.UserID, r.LeaveCount, MonitoringWindowMonths, *r.AverageGapDays)
	}
	return fmt.Sprintf("User %d scheduled %d leaves in the last %d months", r.UserID, r.LeaveCount, MonitoringWindowMonths)
}

// sortedLeaveTypes returns the keys of counts in the canonical type order.
func sortedLeaveTypes(counts map[model.LeaveType]int) []model.LeaveType {
	out := make([]model.LeaveType, 0, len(counts))
	for _, t := range model.LeaveTypes {
		if _, ok := counts[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
