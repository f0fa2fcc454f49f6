package dispatcher

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/cankoe/reminder-scheduler/internal/models"
)

const whenLayout = "Monday, 2 January 2006 15:04 MST"

var textBody = template.Must(template.New("text").Parse(`Reminder: {{.Title}} starts {{.TimeUntil}}.

When: {{.When}}
{{if .Location}}Where: {{.Location}}
{{end}}{{if .Description}}
{{.Description}}
{{end}}`))

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>{{.Title}}</h2>
<p>This event starts <strong>{{.TimeUntil}}</strong>.</p>
<table>
<tr><td>When</td><td>{{.When}}</td></tr>
{{if .Location}}<tr><td>Where</td><td>{{.Location}}</td></tr>
{{end}}</table>
{{if .Description}}<p>{{.Description}}</p>
{{end}}</body>
</html>
`))

type view struct {
	Title       string
	TimeUntil   string
	When        string
	Location    string
	Description string
}

// Render builds the reminder message for ev. To is left empty.
// The event time is converted once into loc for display.
func Render(ev models.Event, timeUntil string, loc *time.Location, subjectPrefix string) (Message, error) {
	if loc == nil {
		loc = time.UTC
	}
	v := view{
		Title:       ev.Title,
		TimeUntil:   timeUntil,
		When:        ev.ScheduledAt.In(loc).Format(whenLayout),
		Location:    ev.Location,
		Description: ev.Description,
	}
	if v.Title == "" {
		v.Title = "Scheduled event"
	}

	var text, html bytes.Buffer
	if err := textBody.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlBody.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}

	return Message{
		Subject: fmt.Sprintf("%sReminder: %s (%s)", subjectPrefix, v.Title, timeUntil),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
