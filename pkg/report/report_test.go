package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/hostwatch/pkg/alertbus"
	"github.com/hostwatch/hostwatch/pkg/hosterr"
	"github.com/hostwatch/hostwatch/pkg/severity"
)

func TestRenderTextEmptyBusLiteral(t *testing.T) {
	bus := alertbus.New()
	r := New("HostWatch", "1.0.0", "127.0.0.1", "puertos 1-1024", bus, time.Now())

	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "Total de alertas: 0")
	assert.NotContains(t, out, "Detalle de alertas:")
}

func TestRenderTextGroupsBySeverity(t *testing.T) {
	bus := alertbus.New()
	now := time.Now()
	require.NoError(t, bus.Publish(alertbus.New(severity.High, "puerto sospechoso", 31337, "Backdoor", now)))
	require.NoError(t, bus.Publish(alertbus.New(severity.Medium, "puerto desconocido", 50000, "Desconocido", now)))

	r := New("HostWatch", "1.0.0", "127.0.0.1", "puertos 1-65535", bus, now)

	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, r))
	out := buf.String()

	assert.Contains(t, out, "Total de alertas: 2")
	assert.Contains(t, out, "puerto sospechoso")
	assert.Contains(t, out, "puerto desconocido")
	assert.True(t, indexOf(out, "\nALTA:") < indexOf(out, "\nMEDIA:"), "High section must render before Medium")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestRenderHTMLContainsAlertsAndEscapesMessages(t *testing.T) {
	bus := alertbus.New()
	now := time.Now()
	require.NoError(t, bus.Publish(alertbus.New(severity.High, "<script>alert(1)</script>", 31337, "Backdoor", now)))

	r := New("HostWatch", "1.0.0", "127.0.0.1", "puertos 1-1024", bus, now)

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, r))
	out := buf.String()

	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.NotContains(t, out, "<script>alert(1)</script>", "html/template must escape alert messages")
	assert.Contains(t, out, "Alertas Críticas")
}

func TestRenderHTMLEmptyBusShowsNoAlertsSection(t *testing.T) {
	bus := alertbus.New()
	r := New("HostWatch", "1.0.0", "127.0.0.1", "puertos 1-1024", bus, time.Now())

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, r))
	assert.Contains(t, buf.String(), "Sin alertas de seguridad")
}

func TestRenderPDFReturnsExternalToolErrorWhenNoToolAvailable(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "report.html")
	pdfPath := filepath.Join(dir, "report.pdf")

	err := RenderPDF(htmlPath, pdfPath)
	if err == nil {
		t.Skip("a PDF tool is installed on this machine; fallback chain succeeded")
	}
	var toolErr *hosterr.ExternalToolError
	assert.ErrorAs(t, err, &toolErr)
}
