package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/pulse-monitor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"join": strings.Join,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pulse Monitor</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
td.num, th.num { text-align: right; }
.connected { color: green; }
.disconnected { color: red; }
.decay { color: #888; }
.error { color: red; }
</style>
</head>
<body>
<h1>Pulse Monitor</h1>

<h2>Meters</h2>
<table>
<tr><th>Meter</th><th class="num">Total kWh</th><th class="num">Subtotal kWh</th><th class="num">Power W</th><th class="num">Pulses</th></tr>
{{range .Channels}}<tr>
<td>{{.Name}}</td>
<td class="num">{{printf "%.2f" .Total}}</td>
<td class="num">{{printf "%.2f" .Subtotal}}</td>
<td class="num{{if lt .Watts 0}} decay{{end}}">{{.Watts}}</td>
<td class="num">{{.PulseTotal}}</td>
</tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Storage</h2>
<table>
<tr><th>Generation</th><td>{{.Generation}}</td></tr>
<tr><th>Writes</th><td>{{.Writes}} / {{.Config.WriteBudget}}</td></tr>
<tr><th>Errors</th><td{{if .StorageErrors}} class="error"{{end}}>{{if .StorageErrors}}{{join .StorageErrors ", "}}{{else}}none{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Pulse correction</th><td>{{.CorrectionMs}}ms</td></tr>
<tr><th>Export</th><td>{{printf "%02d:%02d" .Config.ExportHour .Config.ExportMinute}} daily</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
