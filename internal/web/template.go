package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/sensor-node/internal/connectivity"
	"github.com/sweeney/sensor-node/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"celsius": func(v float64) string { return fmt.Sprintf("%.1f °C", v) },
	"percent": func(v float64) string { return fmt.Sprintf("%.1f %%", v) },
	"ms":      func(v int64) string { return (time.Duration(v) * time.Millisecond).String() },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sensor Node</title>
<style>
:root { --ok: #2e7d32; --bad: #c62828; --warn: #ef6c00; --rule: #e0e0e0; }
body { font: 14px/1.4 ui-monospace, Menlo, monospace; max-width: 40rem; margin: 1.5rem auto; padding: 0 1rem; color: #222; }
h1 { font-size: 1.3rem; display: flex; align-items: center; gap: .5rem; }
h2 { font-size: 1rem; margin-top: 1.5rem; border-bottom: 2px solid var(--rule); }
dl { display: grid; grid-template-columns: 10rem 1fr; margin: .5rem 0; }
dt, dd { margin: 0; padding: .2rem 0; border-bottom: 1px dotted var(--rule); }
dt { color: #666; }
.invalid { color: var(--warn); }
.up { color: var(--ok); }
.down { color: var(--bad); }
#live { width: .6rem; height: .6rem; border-radius: 50%; background: var(--warn); }
#live.ok { background: var(--ok); }
#live.err { background: var(--bad); }
</style>
</head>
<body>
<h1>Sensor Node <span id="live" title="connecting"></span></h1>

<h2>Reading</h2>
<dl>
{{- with .Current}}{{if .Valid}}
<dt>Temperature</dt><dd id="temperature">{{celsius .Temperature}}</dd>
<dt>Humidity</dt><dd id="humidity">{{percent .Humidity}}</dd>
<dt>Light</dt><dd id="light">{{.Light}}</dd>
{{- else}}
<dt>Temperature</dt><dd id="temperature" class="invalid">invalid</dd>
<dt>Humidity</dt><dd id="humidity" class="invalid">invalid</dd>
<dt>Light</dt><dd id="light" class="invalid">invalid</dd>
{{- end}}{{end}}
<dt>History</dt><dd>{{len .History}} of {{.HistoryCapacity}}</dd>
</dl>

<h2>Connectivity</h2>
<dl>
<dt>Link</dt><dd class="{{if .Connected}}up{{else}}down{{end}}">{{.Link}}</dd>
<dt>Broker</dt><dd>{{.Config.Broker}}</dd>
<dt>Subscribers</dt><dd>{{.SubscriberCount}}</dd>
{{- with .Network}}
<dt>Network</dt><dd>{{.Status}} via {{.Type}}{{if .SSID}} ({{.SSID}}){{end}}</dd>
<dt>IP</dt><dd>{{.IP}}</dd>
<dt>RSSI</dt><dd>{{.RSSI}} dBm</dd>
{{- end}}
</dl>

<h2>System</h2>
<dl>
<dt>Uptime</dt><dd>{{.Uptime}}</dd>
<dt>Started</dt><dd>{{.Started}}</dd>
<dt>Loop period</dt><dd>{{ms .Config.LoopMs}}</dd>
<dt>Broadcast</dt><dd>{{ms .Config.BroadcastMs}}</dd>
<dt>Debounce</dt><dd>{{ms .Config.DebounceMs}}</dd>
<dt>Heartbeat</dt><dd>{{if .Config.HeartbeatMs}}{{ms .Config.HeartbeatMs}}{{else}}off{{end}}</dd>
<dt>HTTP</dt><dd>{{.Config.HTTPAddr}}</dd>
</dl>

<p><a href="/index.json">status json</a> | <a href="/api/history">history</a> | <a href="/metrics">metrics</a></p>
<script>
(function() {
  var live = document.getElementById("live");
  var cells = {
    temperature: document.getElementById("temperature"),
    humidity: document.getElementById("humidity"),
    light: document.getElementById("light")
  };

  function show(id, text, valid) {
    cells[id].textContent = valid ? text : "invalid";
    cells[id].className = valid ? "" : "invalid";
  }

  function open() {
    var scheme = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(scheme + location.host + "/ws");
    ws.onopen = function() { live.className = "ok"; live.title = "live"; };
    ws.onclose = function() {
      live.className = "err";
      live.title = "offline";
      setTimeout(open, 5000);
    };
    ws.onmessage = function(ev) {
      var r;
      try { r = JSON.parse(ev.data); } catch (e) { return; }
      show("temperature", r.temperature.toFixed(1) + " °C", r.valid);
      show("humidity", r.humidity.toFixed(1) + " %", r.valid);
      show("light", String(r.light), r.valid);
    };
  }
  open();
})();
</script>
</body>
</html>
`

// page is the template view of a snapshot.
type page struct {
	status.Snapshot
	Uptime    time.Duration
	Started   string
	Connected bool
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, page{
		Snapshot:  snap,
		Uptime:    snap.Uptime().Truncate(time.Second),
		Started:   snap.StartTime.UTC().Format(time.RFC3339),
		Connected: snap.Link == connectivity.Connected,
	})
}
