package email

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/vitrineapp/vitrine/internal/installments"
	"github.com/vitrineapp/vitrine/internal/models"
)

// OrderInfo carries the pre-formatted values the templates interpolate.
// Money fields are already rendered as currency strings.
type OrderInfo struct {
	OrderNumber    string
	CustomerName   string
	Items          []LineItem
	Subtotal       string
	Shipping       string
	Discount       string
	Total          string
	StatusLabel    string
	TrackingNumber string
	Carrier        string
}

type LineItem struct {
	Name     string
	Quantity int
	Total    string
}

var statusLabels = map[models.OrderStatus]string{
	models.OrderProcessing: "em preparação",
	models.OrderShipped:    "enviado",
	models.OrderCompleted:  "entregue",
	models.OrderCancelled:  "cancelado",
	models.OrderRefunded:   "reembolsado",
}

// NewOrderInfo flattens an order into template fields.
func NewOrderInfo(order *models.Order) OrderInfo {
	info := OrderInfo{
		OrderNumber:    order.OrderNumber,
		CustomerName:   order.GuestName,
		Subtotal:       installments.FormatBRL(order.SubtotalCents),
		Shipping:       installments.FormatBRL(order.ShippingCents),
		Discount:       installments.FormatBRL(order.DiscountCents),
		Total:          installments.FormatBRL(order.TotalCents),
		StatusLabel:    statusLabels[order.Status],
		TrackingNumber: order.TrackingNumber,
		Carrier:        order.ShippingCarrier,
	}
	if info.CustomerName == "" {
		info.CustomerName = "cliente"
	}
	for _, item := range order.Items {
		info.Items = append(info.Items, LineItem{
			Name:     item.ProductName,
			Quantity: item.Quantity,
			Total:    installments.FormatBRL(item.SubtotalCents),
		})
	}
	return info
}

const orderConfirmationSubject = "Pedido {{.OrderNumber}} confirmado"

const orderConfirmationText = `Olá {{.CustomerName}},

Recebemos o seu pedido {{.OrderNumber}}.

Itens:
{{range .Items}}  {{.Quantity}}x {{.Name}} - {{.Total}}
{{end}}
Subtotal: {{.Subtotal}}
Frete: {{.Shipping}}
Total: {{.Total}}

Avisaremos assim que o pagamento for confirmado.
`

const orderStatusSubject = "Pedido {{.OrderNumber}} {{.StatusLabel}}"

const orderStatusText = `Olá {{.CustomerName}},

O seu pedido {{.OrderNumber}} está {{.StatusLabel}}.
{{if .TrackingNumber}}
Código de rastreio: {{.TrackingNumber}} ({{.Carrier}})
{{end}}
Qualquer dúvida, responda este email.
`

// Renderer renders the built-in order templates.
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	root := template.New("email")
	for name, text := range map[string]string{
		"order_confirmation.subject": orderConfirmationSubject,
		"order_confirmation.text":    orderConfirmationText,
		"order_status.subject":       orderStatusSubject,
		"order_status.text":          orderStatusText,
	} {
		if _, err := root.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}
	return &Renderer{templates: root}, nil
}

// OrderConfirmation renders the email sent right after checkout.
func (r *Renderer) OrderConfirmation(info OrderInfo) (*Email, error) {
	return r.render("order_confirmation", info)
}

// OrderStatus renders the email sent on a status change.
func (r *Renderer) OrderStatus(info OrderInfo) (*Email, error) {
	if info.StatusLabel == "" {
		return nil, fmt.Errorf("no template label for this status")
	}
	return r.render("order_status", info)
}

func (r *Renderer) render(name string, info OrderInfo) (*Email, error) {
	subject, err := r.execute(name+".subject", info)
	if err != nil {
		return nil, err
	}
	text, err := r.execute(name+".text", info)
	if err != nil {
		return nil, err
	}
	return &Email{Subject: subject, Text: text}, nil
}

func (r *Renderer) execute(name string, info OrderInfo) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, info); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
