package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// Line is one row of the order table.
type Line struct {
	Description string
	Quantity    int
	UnitPrice   int64
	LineTotal   int64
}

// OrderSummary carries what the confirmation mail prints. Amounts are in
// minor units.
type OrderSummary struct {
	OrderNumber  string
	CustomerName string
	Lines        []Line
	Subtotal     int64
	Discount     int64
	CouponCode   string
	Shipping     int64
	Total        int64
}

func ConfirmationSubject(orderNumber string) string {
	return fmt.Sprintf("Order confirmed: %s", orderNumber)
}

func PaymentFailedSubject(orderNumber string) string {
	return fmt.Sprintf("Payment failed for order %s", orderNumber)
}

// BuildConfirmationBody builds the HTML body for order confirmation email
func BuildConfirmationBody(s OrderSummary) string {
	var rows strings.Builder
	for _, l := range s.Lines {
		fmt.Fprintf(&rows, `<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`,
			html.EscapeString(l.Description), l.Quantity, FormatAmount(l.UnitPrice), FormatAmount(l.LineTotal))
	}

	var totals strings.Builder
	totalRow(&totals, "Subtotal", FormatAmount(s.Subtotal))
	if s.Discount > 0 {
		label := "Discount"
		if s.CouponCode != "" {
			label += " (" + html.EscapeString(s.CouponCode) + ")"
		}
		totalRow(&totals, label, "-"+FormatAmount(s.Discount))
	}
	shipping := "Free"
	if s.Shipping > 0 {
		shipping = FormatAmount(s.Shipping)
	}
	totalRow(&totals, "Shipping", shipping)

	return layout("Thank you for your order", fmt.Sprintf(`
		<p style="margin-top: 0;">Hi %s, your payment was received and your order is confirmed.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left;">Item</th>
					<th style="padding: 12px; text-align: center;">Qty</th>
					<th style="padding: 12px; text-align: right;">Price</th>
					<th style="padding: 12px; text-align: right;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>

		<table style="width: 100%%; margin: 0 0 20px 0;">%s</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #667eea; margin-left: 10px;">%s</span>
		</div>`,
		html.EscapeString(s.CustomerName), html.EscapeString(s.OrderNumber), rows.String(), totals.String(), FormatAmount(s.Total)))
}

// BuildPaymentFailedBody tells the customer the order was cancelled and the
// items went back on sale.
func BuildPaymentFailedBody(orderNumber, customerName, reason string) string {
	if reason == "" {
		reason = "the payment was not completed"
	}
	return layout("Your payment did not go through", fmt.Sprintf(`
		<p style="margin-top: 0;">Hi %s,</p>
		<p>We could not take payment for order <strong style="font-family: monospace;">%s</strong> (%s).
		The order has been cancelled and nothing was charged. Your items are back in stock, so you can place the order again at any time.</p>`,
		html.EscapeString(customerName), html.EscapeString(orderNumber), html.EscapeString(reason)))
}

func totalRow(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, `<tr><td style="padding: 4px 12px; color: #666;">%s</td><td style="padding: 4px 12px; text-align: right;">%s</td></tr>`, label, value)
}

func layout(title, content string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">%s</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		%s

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. Please contact support if you have any questions.
		</p>
	</div>
</body>
</html>`, title, content)
}

// FormatAmount renders minor units with two decimals and thousands
// separators, e.g. 123456 -> "1,234.56".
func FormatAmount(minor int64) string {
	fixed := decimal.New(minor, -2).Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if minor < 0 {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
