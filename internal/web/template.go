package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/heating-controller/internal/status"
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
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"temp": func(v float64) string {
		return fmt.Sprintf("%.1f°C", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Heating Controller</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Heating Controller</h1>

<h2>State</h2>
<table>
<tr><th>Boiler</th><td class="{{if not .Decided}}unknown{{else if .Heating}}on{{else}}off{{end}}">{{if not .Decided}}UNKNOWN{{else if .Heating}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Last on</th><td>{{when .LastOn}}</td></tr>
<tr><th>Mode</th><td>{{orUnknown (printf "%s" .Schedule.Mode)}}</td></tr>
<tr><th>Next change</th><td>{{when .Schedule.NextChange}}</td></tr>
<tr><th>Operating mode</th><td>{{.Settings.Mode}}{{if eq (printf "%s" .Settings.Mode) "MANUAL"}} ({{if .Settings.ManualOn}}on{{else}}off{{end}}){{end}}</td></tr>
<tr><th>Decision</th><td>{{orUnknown (printf "%s" .Decision)}}</td></tr>
<tr><th>Demand</th><td>{{printf "%.2f" .Demand.Actual}} / {{printf "%.2f" .Demand.Heat}} over {{.Demand.Rooms}} rooms</td></tr>
<tr><th>Directives</th><td>{{.Schedule.User}} user, {{.Schedule.Smart}} smart</td></tr>
<tr><th>Heating rate</th><td>{{printf "%.3f" .Schedule.HeatingRate}}°C/min</td></tr>
</table>

<h2>Rooms</h2>
{{if .Rooms}}<table>
<tr><th>Room</th><td><b>Temperature</b></td><td><b>Humidity</b></td><td><b>Need</b></td></tr>
{{range .Rooms}}<tr><th>{{.Name}}</th>{{if .Valid}}<td>{{temp .Temperature}}</td><td>{{printf "%.0f" .Humidity}}%</td><td>{{printf "%.2f" .Need}}</td>{{else}}<td class="unknown" colspan="3">no live reading</td>{{end}}</tr>
{{end}}</table>{{else}}<p>No rooms configured.</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Sensor topic</th><td>{{.Config.SensorTopic}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Heating ON</th><td>{{.Counts.On}}</td></tr>
<tr><th>Heating OFF</th><td>{{.Counts.Off}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Resolve</th><td>{{.Config.ResolveMs}}ms</td></tr>
<tr><th>Decide</th><td>{{.Config.DecideMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Time zone</th><td>{{.Config.TZ}}</td></tr>
<tr><th>Relay pin</th><td>GPIO{{.Config.RelayPin}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/api/schedule">Schedule</a> · <a href="/metrics">Metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, rooms []RoomJSON) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Rooms  []RoomJSON
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Rooms:    rooms,
	}
	indexTmpl.Execute(w, data)
}
