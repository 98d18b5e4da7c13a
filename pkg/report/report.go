// Package report renders an alert-bus snapshot into a structured report: a
// plain-text backend grounded on report_generator.c's and alert_manager.c's
// summary/detail blocks, an HTML backend grounded on the idiomatic
// template.Must(template.New(...).Parse(...)) pattern used by the pack's
// cloudprober probestatus surfacer, and a PDF backend that shells out to an
// external converter with an argument vector rather than a shell string.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os/exec"
	"time"

	"github.com/hostwatch/hostwatch/pkg/alertbus"
	"github.com/hostwatch/hostwatch/pkg/hosterr"
	"github.com/hostwatch/hostwatch/pkg/severity"
)

// Report is the pure input to every rendering backend: a target/scope
// description, a timestamp, and a priority-grouped alert snapshot plus its
// summary counters.
type Report struct {
	Product   string
	Version   string
	Target    string
	Scope     string
	Timestamp time.Time
	Total     int
	High      int
	Medium    int
	Low       int
	Snapshot  []alertbus.Alert // priority-grouped, as returned by Bus.Snapshot
}

// New builds a Report from a bus's current state.
func New(product, version, target, scope string, bus *alertbus.Bus, ts time.Time) Report {
	total, high, medium, low := bus.Summary()
	return Report{
		Product:   product,
		Version:   version,
		Target:    target,
		Scope:     scope,
		Timestamp: ts,
		Total:     total,
		High:      high,
		Medium:    medium,
		Low:       low,
		Snapshot:  bus.Snapshot(),
	}
}

func bySeverity(alerts []alertbus.Alert, want severity.Severity) []alertbus.Alert {
	var out []alertbus.Alert
	for _, a := range alerts {
		if a.Severity == want {
			out = append(out, a)
		}
	}
	return out
}

// RenderText writes the plain-text report: header, summary counters, and
// one section per non-empty severity group in High→Medium→Low order. An
// empty bus produces the literal "Total de alertas: 0" and no detail
// section, matching the round-trip property in spec.md §8.
func RenderText(w io.Writer, r Report) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s %s - Reporte de Seguridad\n", r.Product, r.Version)
	fmt.Fprintf(&buf, "Objetivo: %s\n", r.Target)
	fmt.Fprintf(&buf, "Alcance: %s\n", r.Scope)
	fmt.Fprintf(&buf, "Fecha y hora: %s\n\n", r.Timestamp.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&buf, "Total de alertas: %d\n", r.Total)
	fmt.Fprintf(&buf, "  - Alertas ALTAS: %d\n", r.High)
	fmt.Fprintf(&buf, "  - Alertas MEDIAS: %d\n", r.Medium)
	fmt.Fprintf(&buf, "  - Alertas BAJAS: %d\n", r.Low)

	if r.Total > 0 {
		fmt.Fprintf(&buf, "\nDetalle de alertas:\n")
		for _, want := range severity.Ordered() {
			section := bySeverity(r.Snapshot, want)
			if len(section) == 0 {
				continue
			}
			fmt.Fprintf(&buf, "\n%s:\n", want.String())
			for _, a := range section {
				fmt.Fprintf(&buf, "  [%s] %s - Puerto: %d, Servicio: %s - %s\n",
					a.Severity.String(), a.Message, a.Port, a.Subject,
					a.Timestamp.Format("2006-01-02 15:04:05"))
			}
		}
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return &hosterr.RenderError{Backend: "text", Err: err}
	}
	return nil
}

type htmlSection struct {
	Title   string
	CSSClass string
	Alerts  []alertbus.Alert
}

type htmlView struct {
	Product   string
	Version   string
	Target    string
	Scope     string
	Timestamp string
	Total     int
	High      int
	Medium    int
	Low       int
	Sections  []htmlSection
}

var htmlReportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="UTF-8">
<title>{{.Product}} - Reporte de Seguridad</title>
<style>
body { font-family: Arial, sans-serif; margin: 20px; background-color: #f5f5f5; }
.container { max-width: 800px; margin: 0 auto; background: white; padding: 30px; border-radius: 10px; }
.header { text-align: center; border-bottom: 3px solid #2c3e50; padding-bottom: 20px; margin-bottom: 30px; }
.summary { display: flex; justify-content: space-around; margin-bottom: 30px; }
.summary-item { text-align: center; padding: 15px; border-radius: 5px; color: white; }
.summary-total { background: #3498db; }
.summary-high { background: #e74c3c; }
.summary-medium { background: #f39c12; }
.summary-low { background: #27ae60; }
.alert-section { margin-bottom: 25px; }
.alert-high { border-left: 5px solid #e74c3c; background: #fdf2f2; }
.alert-medium { border-left: 5px solid #f39c12; background: #fef9e7; }
.alert-low { border-left: 5px solid #27ae60; background: #eafaf1; }
.alert-item { padding: 15px; margin-bottom: 10px; border-radius: 5px; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <h1>{{.Product}}</h1>
    <h2>Reporte de Seguridad</h2>
  </div>
  <div class="info-section">
    <p><strong>Objetivo:</strong> {{.Target}}</p>
    <p><strong>Alcance:</strong> {{.Scope}}</p>
    <p><strong>Fecha y hora:</strong> {{.Timestamp}}</p>
  </div>
  <div class="summary">
    <div class="summary-item summary-total"><h3>{{.Total}}</h3><p>Total Alertas</p></div>
    <div class="summary-item summary-high"><h3>{{.High}}</h3><p>Críticas</p></div>
    <div class="summary-item summary-medium"><h3>{{.Medium}}</h3><p>Medias</p></div>
    <div class="summary-item summary-low"><h3>{{.Low}}</h3><p>Bajas</p></div>
  </div>
  {{if .Sections}}
    {{range .Sections}}
    <div class="alert-section">
      <h3>{{.Title}}</h3>
      {{range .Alerts}}
      <div class="alert-item {{$.CSSClassFor .Severity}}">
        <div class="alert-header">{{.Message}}</div>
        <div class="alert-details">
          <strong>Puerto:</strong> {{.Port}} |
          <strong>Servicio:</strong> {{.Subject}} |
          <strong>Hora:</strong> {{.Timestamp.Format "15:04:05"}}
        </div>
      </div>
      {{end}}
    </div>
    {{end}}
  {{else}}
    <div class="alert-section">
      <h3>Sin alertas de seguridad</h3>
    </div>
  {{end}}
  <div class="footer">
    <p>Generado por {{.Product}} {{.Version}}</p>
  </div>
</div>
</body>
</html>
`))

// RenderHTML renders the same sections and alerts as RenderText, through
// html/template, producing semantically equivalent output as spec.md §4.7
// requires of the pluggable HTML backend.
func RenderHTML(w io.Writer, r Report) error {
	view := htmlView{
		Product:   r.Product,
		Version:   r.Version,
		Target:    r.Target,
		Scope:     r.Scope,
		Timestamp: r.Timestamp.Format("2006-01-02 15:04:05"),
		Total:     r.Total,
		High:      r.High,
		Medium:    r.Medium,
		Low:       r.Low,
	}

	titles := map[severity.Severity]string{
		severity.High:   "Alertas Críticas",
		severity.Medium: "Alertas Medias",
		severity.Low:    "Alertas Bajas",
	}
	classes := map[severity.Severity]string{
		severity.High:   "alert-high",
		severity.Medium: "alert-medium",
		severity.Low:    "alert-low",
	}

	for _, want := range severity.Ordered() {
		section := bySeverity(r.Snapshot, want)
		if len(section) == 0 {
			continue
		}
		view.Sections = append(view.Sections, htmlSection{
			Title:    titles[want],
			CSSClass: classes[want],
			Alerts:   section,
		})
	}

	var buf bytes.Buffer
	if err := htmlReportTmpl.Execute(&buf, templateData{view, classes}); err != nil {
		return &hosterr.RenderError{Backend: "html", Err: err}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return &hosterr.RenderError{Backend: "html", Err: err}
	}
	return nil
}

// templateData wraps htmlView with a CSSClassFor helper reachable from the
// template via {{$.CSSClassFor ...}}.
type templateData struct {
	htmlView
	classes map[severity.Severity]string
}

func (d templateData) CSSClassFor(s severity.Severity) string { return d.classes[s] }

// pdfTools is the fallback chain tried in order by RenderPDF, grounded on
// convert_html_to_pdf's wkhtmltopdf -> weasyprint -> headless-browser chain.
// Commands are invoked with explicit argument vectors; never a shell string.
var pdfTools = []func(htmlPath, pdfPath string) *exec.Cmd{
	func(htmlPath, pdfPath string) *exec.Cmd {
		return exec.Command("wkhtmltopdf",
			"--page-size", "A4",
			"--margin-top", "20mm", "--margin-bottom", "20mm",
			"--margin-left", "15mm", "--margin-right", "15mm",
			htmlPath, pdfPath)
	},
	func(htmlPath, pdfPath string) *exec.Cmd {
		return exec.Command("weasyprint", htmlPath, pdfPath)
	},
	func(htmlPath, pdfPath string) *exec.Cmd {
		return exec.Command("chromium-browser",
			"--headless", "--disable-gpu", "--print-to-pdf="+pdfPath, htmlPath)
	},
	func(htmlPath, pdfPath string) *exec.Cmd {
		return exec.Command("google-chrome",
			"--headless", "--disable-gpu", "--print-to-pdf="+pdfPath, htmlPath)
	},
}

// RenderPDF converts an already-rendered HTML report at htmlPath into a PDF
// at pdfPath, trying each tool in pdfTools in order. The first success wins;
// if every tool is absent or exits non-zero, the HTML file is left in place
// and an *hosterr.ExternalToolError is returned so the caller can degrade to
// HTML-only with a warning.
func RenderPDF(htmlPath, pdfPath string) error {
	names := make([]string, 0, len(pdfTools))
	var lastErr error

	for _, build := range pdfTools {
		cmd := build(htmlPath, pdfPath)
		names = append(names, cmd.Path)
		if err := cmd.Run(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	return &hosterr.ExternalToolError{Tools: names, Err: lastErr}
}
