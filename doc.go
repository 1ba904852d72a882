// Package mailkit sends application email through named, configured mailers.
//
// A YAML file declares the mailers and the addresses applied to every message:
//
//	default: smtp
//	from: "Acme <hello@acme.test>"
//	smtp:
//	  transport: smtp
//	  host: smtp.acme.test
//	  port: 587
//	  encryption: tls
//	  username: ${SMTP_USERNAME}
//	  password: ${SMTP_PASSWORD}
//	postmark:
//	  transport: postmark
//	  token: ${POSTMARK_TOKEN}
//	  client:
//	    timeout: 10s
//
// The [Manager] resolves a mailer by name, builds its transport on first use
// and caches it. Built-in transports are smtp, sendmail, log, array, ses,
// sesv2, mailgun, postmark and resend; [Manager.Extend] adds custom kinds.
//
// # Mailables
//
// A mailable embeds [Mail] and describes one kind of message:
//
//	type OrderShipped struct {
//	    mailkit.Mail
//	    Order Order `json:"order"`
//	}
//
//	func (m *OrderShipped) Build(context.Context) error {
//	    m.To(m.Order.Customer.Email, m.Order.Customer.Name).
//	        View("orders/shipped.html").
//	        With("order", m.Order)
//	    return nil
//	}
//
//	err := mail.Send(ctx, &OrderShipped{Order: order})
//
// Without an explicit subject the kind name becomes the subject ("Order Shipped").
//
// # Queueing
//
// Mailables marked with ShouldQueue, OnQueue or Delay are serialized and
// handed to a [Queue]. [RiverQueue] stores them as River jobs processed by
// [SendQueuedMail]; redisqueue.Queue keeps them in Redis lists. A worker
// registers the same mailable types on its [Registry] to rebuild them.
//
// # Worker
//
// cmd/mailworker runs the job workers together with health, metrics and
// preview endpoints through [Run].
package mailkit
