// Package mailer builds email messages declaratively and delivers them through pluggable transports.
//
// # Architecture
//
// The package consists of a few layers:
//
//   - Address and AddressesFrom: normalize the address shapes accepted by setters
//   - Message: mutable accumulator for one outgoing email, finalized into an Email
//   - Email: the transport-ready message, encoded to MIME with gomail
//   - Mail and Mailable: declarative, replayable email definitions
//   - Mailer: renders a Mailable and hands it to a Transport or a Queue
//   - Registry and QueuedMail: serialized mailables for background delivery
//
// Transports live in subpackages (smtp, sendmail, logmail, array, ses,
// mailgun, postmark, resend). Most applications resolve them by name
// through the mailkit Manager instead of constructing them directly.
//
// # Mailables
//
// Embed Mail in a struct and add any of the optional hooks:
//
//	type OrderShipped struct {
//		mailer.Mail
//		OrderID string `json:"order_id"`
//	}
//
//	func (o *OrderShipped) Envelope() mailer.Envelope {
//		return mailer.Envelope{Tags: []string{"orders"}}
//	}
//
//	func (o *OrderShipped) Content() mailer.Content {
//		return mailer.Content{Markdown: "orders/shipped.md"}
//	}
//
//	func (o *OrderShipped) ViewData() map[string]any {
//		return map[string]any{"OrderID": o.OrderID}
//	}
//
// Hooks run once per instance, in the order Build, Headers, Envelope, Content.
// Without an explicit or frontmatter subject the subject is derived from the
// type name: OrderShipped is sent as "Order Shipped".
//
// # Sending
//
//	m := mailer.New("smtp", transport,
//		mailer.WithViews(mailer.NewRenderer(templates.FS)),
//		mailer.WithAlways(mailer.Always{From: mailer.NewAddress("team@example.com", "Team")}),
//	)
//
//	order := &OrderShipped{OrderID: "42"}
//	order.To("user@example.com", "User")
//
//	if err := m.Send(ctx, order); err != nil {
//		return err
//	}
//
// Send queues mailables that called ShouldQueue, OnQueue, OnConnection or Delay;
// SendNow always delivers synchronously. Transport failures are returned as
// *DeliveryError, which matches ErrSendFailed.
//
// # Templates
//
// Renderer loads views from an fs.FS. Markdown views may carry YAML frontmatter:
//
//	---
//	subject: Order {{.OrderID}} shipped
//	layout: base.html
//	---
//
//	# Your order is on its way
//
//	[!button|Track order]({{.URL}})
//
// Data keys prefixed with "cid:" are embedded as inline parts; the template
// sees the key without the prefix holding the content-id reference.
package mailer
