package model

// Recipient is one resolved member of a campaign or automation audience.
type Recipient struct {
	ContactID   string                 `json:"contact_id"`
	PhoneNumber string                 `json:"phone_number"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// OutboundMessage is a fully rendered SMS handed to the transport.
type OutboundMessage struct {
	TenantID    string `json:"tenant_id"`
	CampaignID  string `json:"campaign_id,omitempty"`
	ContactID   string `json:"contact_id"`
	PhoneNumber string `json:"phone_number"`
	Body        string `json:"body"`
}
