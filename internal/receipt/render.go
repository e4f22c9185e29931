package receipt

import (
	"bytes"
	"html/template"
	"io"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
	"statusLabel": func(s domain.PaymentStatus) string {
		if s == domain.PaymentStatusSucceeded {
			return "Payment Successful"
		}
		return "Payment Failed"
	},
}).Parse(`<html>
<head>
<style>
body { font-family: Arial, sans-serif; padding: 32px; color: #1B1B1B; background-color: #F4F6F4; }
.header { text-align: center; margin-bottom: 24px; }
.title { color: #2F6B3C; font-size: 26px; font-weight: bold; }
.divider { border-bottom: 2px solid #E8B64D; margin: 20px 0; }
.row { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px dashed #CBD5C0; }
.status-succeeded { color: #3A915F; font-weight: bold; }
.status-failed { color: #C94B32; font-weight: bold; }
.total { font-weight: bold; font-size: 18px; color: #2F6B3C; }
footer { text-align: center; font-size: 13px; color: #4F5D4E; margin-top: 40px; }
</style>
</head>
<body>
<div class="header">
<div class="title">Gear Up</div>
<div>Official Payment Receipt</div>
</div>
<div class="divider"></div>
<div class="row"><b>Customer:</b><span>{{.CustomerName}}</span></div>
<div class="row"><b>Date:</b><span>{{.IssuedAt.Format "2006-01-02 15:04:05 MST"}}</span></div>
<div class="row"><b>Status:</b><span class="status-{{.Status}}">{{statusLabel .Status}}</span></div>
{{- if .FailureReason}}
<div class="row"><b>Reason:</b><span>{{.FailureReason}}</span></div>
{{- end}}
<div class="divider"></div>
<h3>Items Purchased</h3>
{{- range .Lines}}
<div class="row"><span>{{.Quantity}} × {{.Name}}</span><span>{{money .Subtotal}}</span></div>
{{- end}}
<div class="divider"></div>
<div class="row total"><span>Total Items:</span><span>{{.TotalItems}}</span></div>
<div class="row total"><span>Total Paid:</span><span>{{money .TotalPaid}}</span></div>
<footer>
Thanks for supporting Adventure Gear Marketplace.<br />
For help, contact: support@adventuregear.com
</footer>
</body>
</html>
`))

// RenderHTML writes the shareable receipt document. Customer and item names are escaped.
func RenderHTML(w io.Writer, r *domain.Receipt) error {
	return receiptTemplate.Execute(w, r)
}

func RenderHTMLBytes(r *domain.Receipt) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
