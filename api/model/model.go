package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/relaysms/relay/model"
)

type CreateCampaign struct {
	TenantID   string                 `json:"tenant_id"`
	Name       string                 `json:"name"`
	TemplateID string                 `json:"template_id"`
	Audience   model.AudienceSelector `json:"audience"`
	ScheduleAt string                 `json:"schedule_at"`
	MetaData   map[string]interface{} `json:"meta_data"`
}

func (c *CreateCampaign) ValidateCreateCampaign() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TenantID, validation.Required),
		validation.Field(&c.TemplateID, validation.Required),
		validation.Field(&c.ScheduleAt, validation.By(func(value interface{}) error {
			raw, _ := value.(string)
			if raw == "" {
				return nil
			}
			return validateDateFormat(time.RFC3339, raw)
		})),
	)
}

// ToCampaign converts the request into a domain campaign. ValidateCreateCampaign
// must have passed, so the schedule time parse cannot fail here.
func (c *CreateCampaign) ToCampaign() *model.Campaign {
	campaign := &model.Campaign{
		TenantID:   c.TenantID,
		Name:       c.Name,
		TemplateID: c.TemplateID,
		Audience:   c.Audience,
		MetaData:   c.MetaData,
	}
	if c.ScheduleAt != "" {
		campaign.ScheduleAt, _ = time.Parse(time.RFC3339, c.ScheduleAt)
	}
	return campaign
}

func validateDateFormat(format, value string) error {
	_, err := time.Parse(format, value)
	if err != nil {
		return errors.New("please format the schedule date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2026-04-22T15:28:03+00:00)")
	}
	return nil
}

type TopUpWallet struct {
	TenantID       string `json:"tenant_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

func (t *TopUpWallet) ValidateTopUpWallet() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.TenantID, validation.Required),
		validation.Field(&t.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&t.IdempotencyKey, validation.Required),
	)
}
