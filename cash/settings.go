package cash

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/slot-admin/generic"
)

var hundred = decimal.NewFromInt(100)

// Settings resolves withdraw settings and checks request eligibility.
// A per-user override, when present, replaces the global row entirely.
type Settings struct {
	Store  SettingsStore
	Ledger *Ledger
	Clock  generic.Clock
}

// NewSettings creates a settings service.
func NewSettings(store SettingsStore, ledger *Ledger) *Settings {
	return &Settings{Store: store, Ledger: ledger}
}

// Effective returns the setting that applies to userID.
func (s *Settings) Effective(ctx context.Context, userID string) (WithdrawSetting, error) {
	if userID != "" {
		us, err := s.Store.GetUserSetting(ctx, userID)
		if err != nil {
			return WithdrawSetting{}, generic.RemoteIO("get user withdraw setting", err)
		}
		if us != nil {
			return *us, nil
		}
	}
	gs, err := s.Store.GetGlobalSetting(ctx)
	if err != nil {
		return WithdrawSetting{}, generic.RemoteIO("get global withdraw setting", err)
	}
	if gs == nil {
		return WithdrawSetting{MinRequestPercentage: decimal.Zero}, nil
	}
	return *gs, nil
}

// MinimumFor returns the smallest amount userID may request given their
// current paid balance: max(minRequestAmount, ceil(paid * pct / 100)).
func (s *Settings) MinimumFor(ctx context.Context, userID string) (int64, error) {
	setting, err := s.Effective(ctx, userID)
	if err != nil {
		return 0, err
	}
	bal, err := s.Ledger.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return minimum(setting, bal.Paid), nil
}

// CheckEligibility returns a ValidationError when amount is below either
// the fixed minimum or the percentage-of-paid-balance minimum.
func (s *Settings) CheckEligibility(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return generic.NewValidationError("amount", "must be positive").WithCause(generic.ErrInvalidAmount)
	}
	setting, err := s.Effective(ctx, userID)
	if err != nil {
		return err
	}
	if amount < setting.MinRequestAmount {
		return generic.NewValidationError("amount", fmt.Sprintf("minimum request amount is %d", setting.MinRequestAmount))
	}
	if setting.MinRequestPercentage.IsPositive() {
		bal, err := s.Ledger.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if floor := percentOf(bal.Paid, setting.MinRequestPercentage); amount < floor {
			return generic.NewValidationError("amount", fmt.Sprintf("minimum request is %s%% of paid balance (%d)", setting.MinRequestPercentage.String(), floor))
		}
	}
	return nil
}

// SaveGlobal replaces the global setting.
func (s *Settings) SaveGlobal(ctx context.Context, minAmount int64, pct decimal.Decimal) (WithdrawSetting, error) {
	setting, err := s.build("", minAmount, pct)
	if err != nil {
		return WithdrawSetting{}, err
	}
	if err := s.Store.SaveGlobalSetting(ctx, setting); err != nil {
		return WithdrawSetting{}, generic.RemoteIO("save global withdraw setting", err)
	}
	return setting, nil
}

// SaveUser creates or replaces userID's override.
func (s *Settings) SaveUser(ctx context.Context, userID string, minAmount int64, pct decimal.Decimal) (WithdrawSetting, error) {
	if userID == "" {
		return WithdrawSetting{}, generic.NewValidationError("user_id", "required")
	}
	setting, err := s.build(userID, minAmount, pct)
	if err != nil {
		return WithdrawSetting{}, err
	}
	if err := s.Store.SaveUserSetting(ctx, setting); err != nil {
		return WithdrawSetting{}, generic.RemoteIO("save user withdraw setting", err)
	}
	return setting, nil
}

// DeleteUser removes userID's override so the global setting applies again.
func (s *Settings) DeleteUser(ctx context.Context, userID string) error {
	if err := s.Store.DeleteUserSetting(ctx, userID); err != nil {
		return generic.RemoteIO("delete user withdraw setting", err)
	}
	return nil
}

func (s *Settings) build(userID string, minAmount int64, pct decimal.Decimal) (WithdrawSetting, error) {
	if minAmount < 0 {
		return WithdrawSetting{}, generic.NewValidationError("min_request_amount", "must not be negative")
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return WithdrawSetting{}, generic.NewValidationError("min_request_percentage", "must be between 0 and 100")
	}
	return WithdrawSetting{
		UserID:               userID,
		MinRequestAmount:     minAmount,
		MinRequestPercentage: pct,
		UpdatedAt:            s.Clock.Now(),
	}, nil
}

func minimum(setting WithdrawSetting, paid int64) int64 {
	floor := percentOf(paid, setting.MinRequestPercentage)
	if setting.MinRequestAmount > floor {
		return setting.MinRequestAmount
	}
	return floor
}

// percentOf is ceil(paid * pct / 100).
func percentOf(paid int64, pct decimal.Decimal) int64 {
	if paid <= 0 || !pct.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(paid).Mul(pct).Div(hundred).Ceil().IntPart()
}
