package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/panel-controls/internal/panel"
	"github.com/sweeney/panel-controls/internal/status"
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
	"stateText": stateText,
	"total": func(counts panel.EventCounts, name string) int {
		n := 0
		for _, v := range counts[name] {
			n += v
		}
		return n
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("15:04:05.000")
	},
}).Parse(indexHTML))

// stateText renders a control's debounced state for the table.
func stateText(c panel.ControlState) string {
	switch c.Kind {
	case panel.KindButton:
		switch {
		case c.Holding:
			return "HOLDING"
		case c.Active:
			return "PRESSED"
		case c.Pending:
			return "RELEASED (click pending)"
		default:
			return "RELEASED"
		}
	case panel.KindEncoder:
		return fmt.Sprintf("A=%s B=%s counter=%d", level(c.Active), level(c.ActiveB), c.Counter)
	default:
		return level(c.Active)
	}
}

func level(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Panel Controls</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.connected { color: green; }
.disconnected { color: red; }
.err { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Panel Controls<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Controls</h2>
<table>
<tr><th>Name</th><th>Kind</th><th>State</th><th>Last event</th><th>Events</th><th>Errors</th></tr>
{{range .Controls}}<tr id="ctl-{{.Name}}">
<td>{{.Name}}</td><td>{{.Kind}}</td><td>{{stateText .}}</td>
<td class="last">{{.Last}} {{clock .LastAt}}</td>
<td class="count">{{total $.Counts .Name}}</td>
<td{{if .Errors}} class="err"{{end}}>{{.Errors}}</td>
</tr>
{{end}}</table>

<h2>Recent Events</h2>
<table id="recent">
{{range .Recent}}<tr><td>{{clock .Timestamp}}</td><td>{{.Control}}</td><td>{{.Type}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Poll errors</th><td>{{.PollErrors}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.TracePath}}<tr><th>Recording</th><td>{{.Config.TracePath}}</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var recent = document.getElementById("recent");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function onEvent(ev) {
    var row = document.getElementById("ctl-" + ev.control);
    if (row) {
      row.querySelector(".last").textContent = ev.event + " " + ev.timestamp.substr(11, 12);
      var count = row.querySelector(".count");
      count.textContent = String(parseInt(count.textContent, 10) + 1);
    }
    var tr = document.createElement("tr");
    [ev.timestamp.substr(11, 12), ev.control, ev.event].forEach(function(text) {
      var td = document.createElement("td");
      td.textContent = text;
      tr.appendChild(td);
    });
    recent.appendChild(tr);
    while (recent.rows.length > {{.RecentMax}}) {
      recent.deleteRow(0);
    }
  }

  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var msg = JSON.parse(m.data);
        if (msg.type === "control_event") {
          onEvent(msg.data);
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		RecentMax int
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		RecentMax: status.RecentEvents,
	}
	return indexTmpl.Execute(w, data)
}
