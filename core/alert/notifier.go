package alert

import (
	"net/mail"
	"strings"

	"github.com/trezcool/tahadhari/core"
)

const alertEmailTemplate = "alert"

type severityStyle struct {
	emoji string
	color string
	label string
}

var severityStyles = map[Severity]severityStyle{
	SeverityCritical: {emoji: "🚨", color: "#dc3545", label: "Critical"},
	SeverityHigh:     {emoji: "⚠️", color: "#fd7e14", label: "High"},
	SeverityMedium:   {emoji: "📊", color: "#ffc107", label: "Medium"},
	SeverityLow:      {emoji: "✅", color: "#28a745", label: "Low"},
}

var recommendedActions = map[Severity][]string{
	SeverityCritical: {
		"Meet with your academic advisor immediately",
		"Schedule an urgent meeting with your lecturer",
		"Attend every remaining class and review all missed material",
	},
	SeverityHigh: {
		"Schedule a meeting with your lecturer as soon as possible",
		"Consider additional tutoring or academic support services",
		"Form a study group with your classmates",
	},
}

var defaultActions = []string{
	"Review your course materials regularly",
	"Keep track of your progress on your dashboard",
}

type emailData struct {
	RecipientName string
	Title         string
	Message       string
	Emoji         string
	Color         string
	SeverityLabel string
	Actions       []string
}

// Notifier formats alert emails; delivery is delegated to a core.EmailService, fire-and-forget.
type Notifier struct {
	mailSvc core.EmailService
	logger  core.Logger
}

func NewNotifier(mailSvc core.EmailService, logger core.Logger) *Notifier {
	return &Notifier{mailSvc: mailSvc, logger: logger}
}

// Send never fails: invalid recipients are logged and skipped, transport errors are the EmailService's to log.
func (n *Notifier) Send(to mail.Address, title, message string, sev Severity) {
	if strings.TrimSpace(to.Address) == "" {
		n.logger.Warn("alert email skipped: recipient has no email address", map[string]interface{}{"title": title})
		return
	}

	style, ok := severityStyles[sev]
	if !ok {
		style = severityStyles[SeverityLow]
	}
	actions, ok := recommendedActions[sev]
	if !ok {
		actions = defaultActions
	}
	name := to.Name
	if name == "" {
		name = to.Address
	}

	n.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      style.emoji + " " + title,
		TemplateName: alertEmailTemplate,
		TemplateData: emailData{
			RecipientName: name,
			Title:         title,
			Message:       message,
			Emoji:         style.emoji,
			Color:         style.color,
			SeverityLabel: style.label,
			Actions:       actions,
		},
	})
}
