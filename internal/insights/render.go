package insights

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"math"
	texttemplate "text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var funcs = map[string]any{
	"signed": func(v float64) string {
		if v > 0 {
			return fmt.Sprintf("+%.1f", v)
		}
		return fmt.Sprintf("%.1f", v)
	},
	"trend": func(slope float64) string {
		switch {
		case math.Abs(slope) < 0.01:
			return "flat"
		case slope > 0:
			return fmt.Sprintf("rising (%+.2f per day)", slope)
		default:
			return fmt.Sprintf("falling (%+.2f per day)", slope)
		}
	},
	"dict": func(pairs ...any) (map[string]any, error) {
		if len(pairs)%2 != 0 {
			return nil, fmt.Errorf("dict expects key value pairs")
		}
		m := make(map[string]any, len(pairs)/2)
		for i := 0; i < len(pairs); i += 2 {
			key, ok := pairs[i].(string)
			if !ok {
				return nil, fmt.Errorf("dict key %v is not a string", pairs[i])
			}
			m[key] = pairs[i+1]
		}
		return m, nil
	},
}

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).ParseFS(templateFS, "templates/*.html.tmpl"))
	textTemplates = texttemplate.Must(texttemplate.New("text").Funcs(funcs).ParseFS(templateFS, "templates/*.txt.tmpl"))
)

type dailyView struct {
	AppName  string
	Insights *DailyInsights
}

type alertView struct {
	AppName string
	Alert   Alert
}

// RenderDaily builds the report message for one recipient.
func RenderDaily(appName, to string, d *DailyInsights) (Message, error) {
	view := dailyView{AppName: appName, Insights: d}
	text, html, err := render("daily", view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s daily insights for %s", appName, d.Date),
		Text:    text,
		HTML:    html,
	}, nil
}

// RenderAlert builds the notification for one alert and recipient.
func RenderAlert(appName, to string, a Alert) (Message, error) {
	text, html, err := render("alert", alertView{AppName: appName, Alert: a})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("[%s] %s traffic on %s", appName, a.Kind, a.ProjectName),
		Text:    text,
		HTML:    html,
	}, nil
}

func render(name string, data any) (string, string, error) {
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, name+".txt.tmpl", data); err != nil {
		return "", "", fmt.Errorf("render %s text: %w", name, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html.tmpl", data); err != nil {
		return "", "", fmt.Errorf("render %s html: %w", name, err)
	}
	return text.String(), html.String(), nil
}
