// Package coupon decides which discount codes a customer may use.
package coupon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/printshop/pkg/models"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("coupon not found")
	ErrExpired       = errors.New("coupon has expired")
	ErrAlreadyUsed   = errors.New("coupon already used")
	ErrRequiresLogin = errors.New("login required to apply a coupon")
)

// ListEligible returns the public coupons the user can still redeem today.
func ListEligible(user *models.UserProfile, coupons []models.Coupon, today models.Date) []models.Coupon {
	eligible := make([]models.Coupon, 0, len(coupons))
	for _, c := range coupons {
		if !c.IsPublic() || c.Expiry.Before(today) || user.UsedCoupon(c.Name) {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

// Apply resolves a typed code. Private coupons are matched as well, so a code that is not
// listed publicly still works when entered exactly.
func Apply(code string, coupons []models.Coupon, user *models.UserProfile, today models.Date) (*models.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}
	if user == nil {
		return nil, ErrRequiresLogin
	}

	var found *models.Coupon
	for i := range coupons {
		if strings.EqualFold(coupons[i].Name, code) {
			found = &coupons[i]
			break
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	if found.Expiry.Before(today) {
		return nil, ErrExpired
	}
	if user.UsedCoupon(found.Name) {
		return nil, ErrAlreadyUsed
	}

	c := *found
	return &c, nil
}

type Source interface {
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	UserByPhone(ctx context.Context, phone string) (*models.UserProfile, error)
}

// Ledger runs the coupon rules against the storefront services.
type Ledger struct {
	source Source
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger applies the coupon rules to the coupons and users served by source. Dates are
// compared in the local calendar.
func NewLedger(source Source, logger *zap.Logger) *Ledger {
	return &Ledger{
		source: source,
		logger: logger.Named("coupon"),
		now:    time.Now,
	}
}

func (l *Ledger) today() models.Date {
	return models.DateOf(l.now())
}

// Eligible never fails: an unreachable service just yields no coupons.
func (l *Ledger) Eligible(ctx context.Context, phone string) []models.Coupon {
	coupons, err := l.source.ListCoupons(ctx)
	if err != nil {
		l.logger.Warn("Failed to list coupons", zap.Error(err))
		return []models.Coupon{}
	}

	var user *models.UserProfile
	if phone != "" {
		user, err = l.source.UserByPhone(ctx, phone)
		if err != nil {
			l.logger.Warn("Failed to look up user", zap.String("phone", phone), zap.Error(err))
			user = nil
		}
	}
	return ListEligible(user, coupons, l.today())
}

// Redeem validates code for the user behind phone. A blank phone or an unknown user gives
// ErrRequiresLogin; the rule errors come from Apply.
func (l *Ledger) Redeem(ctx context.Context, phone, code string) (*models.Coupon, error) {
	if phone == "" {
		return nil, ErrRequiresLogin
	}
	user, err := l.source.UserByPhone(ctx, phone)
	if err != nil {
		l.logger.Warn("Failed to look up user", zap.String("phone", phone), zap.Error(err))
		return nil, ErrRequiresLogin
	}

	coupons, err := l.source.ListCoupons(ctx)
	if err != nil {
		l.logger.Warn("Failed to list coupons", zap.Error(err))
		coupons = nil
	}

	c, err := Apply(code, coupons, user, l.today())
	if err != nil {
		l.logger.Info("Coupon rejected", zap.String("code", code), zap.Error(err))
		return nil, err
	}
	l.logger.Info("Coupon accepted", zap.String("code", c.Name), zap.Float64("discount", c.Discount))
	return c, nil
}
