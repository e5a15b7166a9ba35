package notify

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"

	"taskmanager/domain"
)

const textBody = `Hello,

{{.Intro}}

Task ID: {{.TaskID}}
Task Title: {{.Title}}
{{if .Fields}}
Updated Fields:
{{range .Fields}}- {{.Name}}: {{.Value}}
{{end}}{{end}}
Current Status: {{.Status}}
Last Updated: {{.UpdatedAt}}

Thank you for using our Task Manager!
`

const htmlBody = `<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background-color: #4CAF50; color: white; padding: 10px; text-align: center; }
.footer { text-align: center; font-size: 12px; color: #666; padding: 10px; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h2>{{.Heading}}</h2></div>
<div class="content">
<p>Hello,</p>
<p>{{.Intro}}</p>
<div style="margin: 15px 0; padding: 15px; border-left: 4px solid #4CAF50;">
<p><strong>Task ID:</strong> {{.TaskID}}</p>
<p><strong>Task Title:</strong> {{.Title}}</p>
{{if .Fields}}<p><strong>Updated Fields:</strong></p>
<ul>
{{range .Fields}}<li><strong>{{.Name}}:</strong> {{.Value}}</li>
{{end}}</ul>{{end}}
<p><strong>Current Status:</strong> {{.Status}}</p>
<p><strong>Last Updated:</strong> {{.UpdatedAt}}</p>
</div>
<p>Thank you for using our Task Manager!</p>
</div>
<div class="footer"><p>This is an automated message, please do not reply.</p></div>
</div>
</body>
</html>
`

// Renderer turns a notification and task snapshot into mail bodies.
type Renderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

// NewRenderer parses the built-in templates.
func NewRenderer() *Renderer {
	return &Renderer{
		text: texttemplate.Must(texttemplate.New("text").Parse(textBody)),
		html: htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody)),
	}
}

type fieldView struct {
	Name  string
	Value string
}

type bodyView struct {
	Heading   string
	Intro     string
	TaskID    string
	Title     string
	Fields    []fieldView
	Status    string
	UpdatedAt string
}

// Render builds the subject and both bodies for one recipient.
func (r *Renderer) Render(n domain.Notification, task domain.Task, to string) (domain.RenderedNotification, error) {
	title := task.FieldValue(domain.FieldTitle)
	view := bodyView{
		TaskID:    n.TaskID,
		Title:     title,
		Status:    task.FieldValue(domain.FieldStatus),
		UpdatedAt: task.FieldValue("updatedAt"),
	}
	subjectTitle := task.Title
	if subjectTitle == "" {
		subjectTitle = "Your task"
	}
	var subject string
	switch n.Type {
	case domain.NotificationTaskDeleted:
		view.Heading = "Task Deleted Notification"
		view.Intro = "One of your tasks has been deleted."
		subject = "Task Deleted: " + subjectTitle
	default:
		view.Heading = "Task Update Notification"
		view.Intro = "One of your tasks has been updated:"
		subject = "Task Updated: " + subjectTitle
		for _, f := range n.UpdatedFields {
			value := task.FieldValue(f)
			if f == domain.FieldAssignees {
				value = "changed"
			}
			view.Fields = append(view.Fields, fieldView{Name: f, Value: value})
		}
	}

	var text, html bytes.Buffer
	if err := r.text.Execute(&text, view); err != nil {
		return domain.RenderedNotification{}, err
	}
	if err := r.html.Execute(&html, view); err != nil {
		return domain.RenderedNotification{}, err
	}
	return domain.RenderedNotification{
		To:      to,
		UserID:  n.UserID,
		TaskID:  n.TaskID,
		Type:    n.Type,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
