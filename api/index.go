package api

import (
	"html/template"
	"net/http"

	log "github.com/sirupsen/logrus"
)

var pillsTemplate = template.Must(template.New("pills").Parse(
	`{{range .}}<span class="pill">{{.}}</span>{{else}}<em>No data yet</em>{{end}}`))

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>latency_lab{{with .Version}} (Version {{.}}){{end}}</title>
	<script src="https://unpkg.com/htmx.org@1.9.12"></script>
	<script src="https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js"></script>
	<style>
		body { font-family: system-ui, sans-serif; margin: 2rem; }
		.card { padding: 1rem; border: 1px solid #ddd; border-radius: 12px; margin-bottom: 1rem; }
		canvas { width: 100%; max-width: 900px; height: 360px; }
		.pill { display: inline-block; padding: .25rem .5rem; border-radius: 999px; background: #f5f5f5; margin-right: .5rem; }
	</style>
</head>
<body>
	<h1>latency_lab</h1>
	<div class="card">
		<div hx-get="/v1/targets" hx-trigger="load, every 5s" hx-swap="innerHTML"></div>
	</div>
	<div class="card">
		<h3>Latency (ms)</h3>
		<canvas id="latency"></canvas>
	</div>
	{{with .MetricsPath}}<p><a href="{{.}}">Metrics</a></p>{{end}}
	<script>
		const chart = new Chart(document.getElementById('latency').getContext('2d'), {
			type: 'line',
			data: { labels: [], datasets: [] },
			options: {
				animation: false,
				scales: { x: { title: { display: true, text: 't' } }, y: { title: { display: true, text: 'ms' } } }
			}
		});
		async function refresh() {
			const r = await fetch('/v1/series?window={{.WindowSize}}');
			const data = await r.json();
			chart.data.labels = data.labels;
			chart.data.datasets = data.datasets.map(d => Object.assign(d, { fill: false, tension: 0.2 }));
			chart.update();
		}
		setInterval(refresh, 3000);
		refresh();
	</script>
</body>
</html>
`))

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.opts); err != nil {
		log.Errorf("could not render index: %v", err)
	}
}
