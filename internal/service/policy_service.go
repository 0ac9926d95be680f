package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

type settingsRepository interface {
	ListAll(ctx context.Context) ([]models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
}

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type policyKey struct {
	Type        models.SettingType
	Description string
	Apply       func(p *models.Policy, value string) error
}

// policyKeys is the allowlist of recognized settings. Unknown keys are
// rejected on write and ignored on read.
var policyKeys = map[string]policyKey{
	"business_hours_open": {
		Type:        models.SettingTypeClock,
		Description: "Earliest bookable time of day",
		Apply: func(p *models.Policy, v string) error {
			if _, err := models.ParseClock(v); err != nil {
				return err
			}
			p.BusinessOpen = v
			return nil
		},
	},
	"business_hours_close": {
		Type:        models.SettingTypeClock,
		Description: "Latest bookable time of day",
		Apply: func(p *models.Policy, v string) error {
			if _, err := models.ParseClock(v); err != nil {
				return err
			}
			p.BusinessClose = v
			return nil
		},
	},
	"buffer_minutes": {
		Type:        models.SettingTypeInteger,
		Description: "Minimum gap enforced around every committed job",
		Apply:       intSetting(func(p *models.Policy, n int) { p.BufferMinutes = n }),
	},
	"min_lead_days": {
		Type:        models.SettingTypeInteger,
		Description: "Earliest a new one-time booking may be placed",
		Apply:       intSetting(func(p *models.Policy, n int) { p.MinLeadDays = n }),
	},
	"allow_same_day": {
		Type:        models.SettingTypeBoolean,
		Description: "Whether same-day bookings are accepted",
		Apply: func(p *models.Policy, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			p.AllowSameDay = b
			return nil
		},
	},
	"reschedule_notice_recurring_days": {
		Type:        models.SettingTypeInteger,
		Description: "Minimum notice to reschedule a recurring job",
		Apply:       intSetting(func(p *models.Policy, n int) { p.RescheduleNoticeRecurringDays = n }),
	},
	"cancel_notice_onetime_hours": {
		Type:        models.SettingTypeInteger,
		Description: "Minimum notice to cancel a one-time job",
		Apply:       intSetting(func(p *models.Policy, n int) { p.CancelNoticeOnetimeHours = n }),
	},
	"cancel_notice_recurring_days": {
		Type:        models.SettingTypeInteger,
		Description: "Minimum notice to cancel a recurring job",
		Apply:       intSetting(func(p *models.Policy, n int) { p.CancelNoticeRecurringDays = n }),
	},
	"default_duration_minutes": {
		Type:        models.SettingTypeInteger,
		Description: "Standard booking length",
		Apply:       intSetting(func(p *models.Policy, n int) { p.DefaultDurationMinutes = n }),
	},
	"slot_granularity_minutes": {
		Type:        models.SettingTypeInteger,
		Description: "Step size between offered slot start times",
		Apply:       intSetting(func(p *models.Policy, n int) { p.SlotGranularityMinutes = n }),
	},
}

func intSetting(set func(*models.Policy, int)) func(*models.Policy, string) error {
	return func(p *models.Policy, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("negative value %d", n)
		}
		set(p, n)
		return nil
	}
}

// PolicyService loads and mutates the booking policy. Current reads
// the settings store on every call so admin changes take effect on the
// next evaluation without any core-side caching.
type PolicyService struct {
	settings settingsRepository
	audit    auditWriter
	logger   *zap.Logger
}

// NewPolicyService instantiates PolicyService.
func NewPolicyService(settings settingsRepository, audit auditWriter, logger *zap.Logger) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyService{settings: settings, audit: audit, logger: logger}
}

// Current returns the effective policy. A stored value that fails to
// parse falls back to the built-in default for that key and is logged
// for operator attention; it never fails the request.
func (s *PolicyService) Current(ctx context.Context) (models.Policy, error) {
	policy := models.DefaultPolicy()

	stored, err := s.settings.ListAll(ctx)
	if err != nil {
		return policy, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking policy")
	}

	for _, setting := range stored {
		spec, ok := policyKeys[setting.Key]
		if !ok {
			continue
		}
		if err := spec.Apply(&policy, setting.Value); err != nil {
			s.logger.Warn("invalid policy setting, using default",
				zap.String("key", setting.Key),
				zap.String("value", setting.Value),
				zap.Error(err))
		}
	}

	if open, err := models.ParseClock(policy.BusinessOpen); err == nil {
		if closeM, err := models.ParseClock(policy.BusinessClose); err == nil && closeM <= open {
			s.logger.Warn("business hours close before open, using defaults",
				zap.String("open", policy.BusinessOpen),
				zap.String("close", policy.BusinessClose))
			fallback := models.DefaultPolicy()
			policy.BusinessOpen = fallback.BusinessOpen
			policy.BusinessClose = fallback.BusinessClose
		}
	}

	return policy, nil
}

// UpdatePolicyRequest carries the keys to change.
type UpdatePolicyRequest struct {
	Values map[string]string `json:"values" validate:"required,min=1"`
}

// Update validates and persists policy settings, recording the change
// in the audit trail.
func (s *PolicyService) Update(ctx context.Context, req UpdatePolicyRequest, actorID string, ip, userAgent string) (models.Policy, error) {
	if len(req.Values) == 0 {
		return models.Policy{}, appErrors.Clone(appErrors.ErrValidation, "no settings provided")
	}

	for key, value := range req.Values {
		spec, ok := policyKeys[key]
		if !ok {
			return models.Policy{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown setting %q", key))
		}
		trial := models.DefaultPolicy()
		if err := spec.Apply(&trial, value); err != nil {
			return models.Policy{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid value for %q", key))
		}
	}

	now := time.Now().UTC()
	for key, value := range req.Values {
		setting := &models.Setting{
			Key:       key,
			Value:     value,
			Type:      policyKeys[key].Type,
			UpdatedBy: &actorID,
			UpdatedAt: now,
		}
		if err := s.settings.Upsert(ctx, setting); err != nil {
			return models.Policy{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store setting")
		}
	}

	if s.audit != nil {
		payload, _ := json.Marshal(req.Values)
		if err := s.audit.Create(ctx, &models.AuditLog{
			AccountID: &actorID,
			Action:    models.AuditActionPolicyUpdate,
			Resource:  "settings",
			NewValues: payload,
			IPAddress: ip,
			UserAgent: userAgent,
		}); err != nil {
			s.logger.Warn("failed to record policy audit log", zap.Error(err))
		}
	}

	return s.Current(ctx)
}
