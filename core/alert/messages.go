package alert

import (
	"math/rand"
	"strings"
	"sync"
	"text/template"

	"github.com/pkg/errors"
)

// MessageData is what title and message templates can reference.
type MessageData struct {
	Student string // full name, used by third-person templates
	Course  string
	Label   string // e.g. "Quiz 1"
	Percent string
	Grade   string
}

var (
	msgFuncs = template.FuncMap{"article": article}
	msgCache = make(map[string]*template.Template)
	msgMu    sync.RWMutex
)

func article(word string) string {
	if word == "" {
		return "a"
	}
	switch strings.ToUpper(word[:1]) {
	case "A", "E", "F", "H", "I", "L", "M", "N", "O", "R", "S", "X":
		return "an"
	}
	return "a"
}

func parseMessage(text string) (*template.Template, error) {
	msgMu.RLock()
	tmpl, ok := msgCache[text]
	msgMu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("msg").Funcs(msgFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.Wrap(err, "parsing message template")
	}
	msgMu.Lock()
	msgCache[text] = tmpl
	msgMu.Unlock()
	return tmpl, nil
}

func renderMessage(text string, data MessageData) (string, error) {
	tmpl, err := parseMessage(text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "rendering message template")
	}
	return sb.String(), nil
}

func (b Band) render(data MessageData) (title, msg string, err error) {
	if title, err = renderMessage(b.Title, data); err != nil {
		return "", "", err
	}
	msg, err = renderMessage(b.Message, data)
	return title, msg, err
}

const lecturerTitlePrefix = "Student Alert: "

func (b Band) renderLecturer(data MessageData) (title, msg string, err error) {
	if b.LecturerTitle == "" || b.LecturerMessage == "" {
		return "", "", errors.Errorf("no lecturer template for %s/%s", b.Type, b.Severity)
	}
	if title, err = renderMessage(b.LecturerTitle, data); err != nil {
		return "", "", err
	}
	if !strings.HasPrefix(title, lecturerTitlePrefix) {
		title = lecturerTitlePrefix + title
	}
	msg, err = renderMessage(b.LecturerMessage, data)
	return title, msg, err
}

const motivationalTitle = "Stay Motivated: You've got this!"

var motivationalMessages = []string{
	"Keep pushing forward! Every small step counts towards your success.",
	"Believe in yourself! You have the potential to achieve great things.",
	"Remember why you started. Your goals are within reach!",
	"Consistency is key. Keep up your efforts and you'll see results!",
	"You're capable of more than you know. Don't give up on yourself!",
	"Progress, not perfection. Every day is a new opportunity to improve.",
	"Your hard work will pay off. Stay focused on your goals!",
}

func motivationalMessage(rnd *rand.Rand, course string) string {
	return motivationalMessages[rnd.Intn(len(motivationalMessages))] + " Keep working hard in " + course + "!"
}
