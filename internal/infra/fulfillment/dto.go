package fulfillment

import "github.com/shopspring/decimal"

type deliveryDatesResponse struct {
	Dates []deliveryDateDTO `json:"dates"`
}

type deliveryDateDTO struct {
	Date      string          `json:"date"`
	Fee       decimal.Decimal `json:"fee"`
	Available bool            `json:"available"`
}

type totalsRequest struct {
	Zip      string          `json:"zip"`
	Date     string          `json:"delivery_date"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type totalsDTO struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Delivery decimal.Decimal `json:"delivery"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

type contactDTO struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type addressDTO struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

type recipientDTO struct {
	Name    string     `json:"name"`
	Phone   string     `json:"phone"`
	Address addressDTO `json:"address"`
}

type orderLineDTO struct {
	ProductCode  string          `json:"product_code"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Recipient    recipientDTO    `json:"recipient"`
	DeliveryDate string          `json:"delivery_date"`
	CardMessage  string          `json:"card_message,omitempty"`
}

type submitOrderRequest struct {
	Reference string         `json:"reference"`
	Sender    contactDTO     `json:"sender"`
	Lines     []orderLineDTO `json:"lines"`
	Totals    totalsDTO      `json:"totals"`
}

type submitOrderResponse struct {
	ConfirmationID string `json:"confirmation_id"`
}

type orderStatusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
