package notifier

import (
	"bytes"
	htmltmpl "html/template"
	texttmpl "text/template"
	"time"
)

type statusMailData struct {
	CustomerName      string
	OrderID           string
	From              string
	To                string
	EstimatedDelivery string
	Notes             string
}

var statusHTML = htmltmpl.Must(htmltmpl.New("status").Parse(`<html><body>
<p>Hi {{.CustomerName}},</p>
<p>Your Arrow3 Aerospace order <strong>{{.OrderID}}</strong> moved from
<em>{{.From}}</em> to <strong>{{.To}}</strong>.</p>
{{if .EstimatedDelivery}}<p>Estimated delivery: {{.EstimatedDelivery}}.</p>{{end}}
{{if .Notes}}<p>{{.Notes}}</p>{{end}}
<p>— Arrow3 Aerospace</p>
</body></html>`))

var statusText = texttmpl.Must(texttmpl.New("status").Parse(`Hi {{.CustomerName}},

Your Arrow3 Aerospace order {{.OrderID}} moved from {{.From}} to {{.To}}.
{{if .EstimatedDelivery}}Estimated delivery: {{.EstimatedDelivery}}.
{{end}}{{if .Notes}}{{.Notes}}
{{end}}
— Arrow3 Aerospace`))

func renderStatusMail(d statusMailData) (html, text string, err error) {
	var hb, tb bytes.Buffer
	if err = statusHTML.Execute(&hb, d); err != nil {
		return "", "", err
	}
	if err = statusText.Execute(&tb, d); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}

func formatDelivery(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("Monday, 2 January 2006")
}
