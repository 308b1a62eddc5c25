package ui

import (
	"html/template"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

// PageData holds the data for rendering the dashboard page
type PageData struct {
	Version     string
	Query       TableQuery
	SortKeys    []fleet.SortKey
	Ranges      []fleet.UptimeRange
	Generation  uint64
	FetchedAt   string
	NextRefresh int // seconds
	Summary     SummaryView
	Devices     []DeviceView
	Transitions []TransitionView
	Uptime      UptimeChart
	Assets      map[string]string // name -> versioned path
}

var uptimeRangeOrder = []fleet.UptimeRange{"24h", "7d", "30d", "90d"}

var funcs = template.FuncMap{
	"sortLabel": func(k fleet.SortKey) string {
		switch k {
		case fleet.SortByDeviceId:
			return "Device"
		case fleet.SortByStatus:
			return "Status"
		case fleet.SortByUptime:
			return "Uptime"
		case fleet.SortByLastUpdated:
			return "Last seen"
		case fleet.SortByFirmware:
			return "Firmware"
		case fleet.SortByTemperature:
			return "Temperature"
		case fleet.SortByRssi:
			return "RSSI"
		}
		return string(k)
	},
	"str": func(v any) string {
		switch v := v.(type) {
		case fleet.SortKey:
			return string(v)
		case fleet.UptimeRange:
			return string(v)
		}
		return ""
	},
}

var pageTmpl = template.Must(template.New("page").Funcs(funcs).Parse(pageTemplate))

const pageTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>ESP32 Fleet</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/bulma@0.9.4/css/bulma.min.css"/>
  <link rel="stylesheet" href="{{index .Assets "dashboard.css"}}"/>
  <script src="https://unpkg.com/htmx.org@1.9.12"></script>
  <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='0.9em' font-size='90'>📡</text></svg>"/>
</head>
<body data-next-refresh="{{.NextRefresh}}">
  <section class="hero is-dark is-small">
    <div class="hero-body">
      <div class="container">
        <div class="level">
          <div class="level-left">
            <h1 class="title is-3 has-text-white">ESP32 Fleet</h1>
            <span class="subtitle is-6 ml-3 has-text-grey-light">{{.Version}}</span>
          </div>
          <div class="level-right">
            <span class="tag is-light" id="refresh-countdown" title="snapshot {{.Generation}} fetched {{.FetchedAt}}">refresh in {{.NextRefresh}}s</span>
          </div>
        </div>
      </div>
    </div>
  </section>

  <section class="section pb-0">
    <div class="container">
      <div id="summary" hx-get="/htmx/summary" hx-trigger="fleet-refresh from:body" hx-swap="innerHTML">
        {{template "summary" .Summary}}
      </div>
    </div>
  </section>

  <section class="section">
    <div class="container">
      <form id="controls" class="field is-grouped is-grouped-multiline"
            hx-get="/htmx/table" hx-target="#devices" hx-trigger="input changed delay:300ms from:#search, change">
        <p class="control is-expanded">
          <input class="input" id="search" type="search" name="q" placeholder="Search by device id" value="{{.Query.Q}}" autocomplete="off"/>
        </p>
        <p class="control">
          <span class="select">
            <select name="sort">
              {{- $sort := .Query.Sort}}
              {{- range .SortKeys}}
              <option value="{{str .}}"{{if eq (str .) $sort}} selected{{end}}>{{sortLabel .}}</option>
              {{- end}}
            </select>
          </span>
        </p>
        <p class="control">
          <span class="select">
            <select name="dir">
              <option value="asc"{{if eq .Query.Dir "asc"}} selected{{end}}>Ascending</option>
              <option value="desc"{{if eq .Query.Dir "desc"}} selected{{end}}>Descending</option>
            </select>
          </span>
        </p>
        <p class="control">
          <span class="select">
            <select name="online_first">
              <option value="true"{{if eq .Query.OnlineFirst "true"}} selected{{end}}>Online first</option>
              <option value="false"{{if eq .Query.OnlineFirst "false"}} selected{{end}}>Mixed</option>
            </select>
          </span>
        </p>
      </form>
      <div id="devices" hx-get="/htmx/table" hx-include="#controls" hx-trigger="fleet-refresh from:body" hx-swap="innerHTML">
        {{template "table" .Devices}}
      </div>
    </div>
  </section>

  <section class="section pt-0">
    <div class="container">
      <div class="columns">
        <div class="column is-8">
          <div class="level">
            <div class="level-left"><h2 class="title is-5">Uptime</h2></div>
            <div class="level-right">
              <div class="buttons has-addons">
                {{- $range := .Query.Range}}
                {{- range .Ranges}}
                <button class="button is-small{{if eq (str .) $range}} is-link is-selected{{end}}"
                        hx-get="/htmx/uptime?range={{str .}}" hx-target="#uptime">{{str .}}</button>
                {{- end}}
              </div>
            </div>
          </div>
          <div id="uptime">{{template "uptime" .Uptime}}</div>
        </div>
        <div class="column is-4">
          <h2 class="title is-5">Recent changes</h2>
          <div id="transitions" hx-get="/htmx/transitions" hx-trigger="fleet-refresh from:body" hx-swap="innerHTML">
            {{template "transitions" .Transitions}}
          </div>
        </div>
      </div>
    </div>
  </section>

  <script src="{{index .Assets "dashboard.js"}}"></script>
</body>
</html>

{{define "summary"}}
<div class="columns is-multiline">
  <div class="column is-3"><div class="box has-text-centered">
    <p class="heading">Devices</p>
    <p class="title">{{.Total}}</p>
    <p class="is-size-7">
      <span class="tag is-success">{{.Broadcasting}} broadcasting</span>
      <span class="tag is-warning">{{.Idle}} idle</span>
      <span class="tag is-danger">{{.Offline}} offline</span>
    </p>
  </div></div>
  <div class="column is-3"><div class="box has-text-centered">
    <p class="heading">Uptime</p>
    <p class="title">{{.Uptime}}</p>
    <progress class="progress is-small is-success" value="{{.Online}}" max="{{.Total}}">{{.Uptime}}</progress>
  </div></div>
  <div class="column is-3"><div class="box has-text-centered">
    <p class="heading">Averages</p>
    <p class="title is-5">{{.AverageRSSI}}</p>
    <p class="subtitle is-6">{{.AverageTemp}}</p>
  </div></div>
  <div class="column is-3"><div class="box has-text-centered">
    <p class="heading">Estimated energy / day</p>
    <p class="title is-5">{{.Energy}}</p>
    <p class="is-size-7">longest up {{.LongestUptime}}</p>
    <p class="is-size-7">longest down {{.LongestDowntime}}</p>
  </div></div>
</div>
{{end}}

{{define "table"}}
{{if .}}
<table class="table is-fullwidth is-hoverable is-narrow">
  <thead>
    <tr><th>Status</th><th>Device</th><th>Last seen</th><th>Up / down</th><th>Firmware</th><th>Temperature</th><th>RSSI</th><th>SSID</th></tr>
  </thead>
  <tbody>
  {{- range .}}
    <tr id="device-{{.Id}}" data-status="{{.Status}}">
      <td><span class="tag {{.StatusClass}}">{{.Status}}</span></td>
      <td class="has-text-weight-semibold">{{.Id}}</td>
      <td title="{{.LastUpdated}}">{{.LastSeen}}</td>
      <td>{{if .ElapsedLabel}}<span class="elapsed-{{.ElapsedLabel}}">{{.ElapsedLabel}} {{.Elapsed}}</span>{{else}}{{.Elapsed}}{{end}}</td>
      <td><code>{{.Firmware}}</code></td>
      <td>{{.Temperature}}</td>
      <td>{{.RSSI}}</td>
      <td>{{.SSID}}</td>
    </tr>
  {{- end}}
  </tbody>
</table>
{{else}}
<div class="notification is-light has-text-grey is-size-6">No devices found.</div>
{{end}}
{{end}}

{{define "transitions"}}
{{if .}}
<ul class="transitions">
  {{- range .}}
  <li title="{{.Timestamp}}"><strong>{{.DeviceId}}</strong> {{.From}} &rarr; <span class="tag {{.ToClass}}">{{.To}}</span> <span class="has-text-grey">{{.Ago}}</span></li>
  {{- end}}
</ul>
{{else}}
<p class="has-text-grey">No status changes recorded.</p>
{{end}}
{{end}}

{{define "uptime"}}
{{if .Error}}
<div class="notification is-warning is-light">Uptime history unavailable: {{.Error}}</div>
{{else if .Bars}}
<svg class="uptime-chart" viewBox="0 0 {{.Width}} {{.Height}}" preserveAspectRatio="none" role="img" aria-label="daily uptime over {{.Range}}">
  {{- range .Bars}}
  <rect class="{{.Class}}" x="{{printf "%.1f" .X}}" y="{{printf "%.1f" .Y}}" width="{{printf "%.1f" .Width}}" height="{{printf "%.1f" .Height}}"><title>{{.Day}}: {{printf "%.1f" .Percent}}%</title></rect>
  {{- end}}
</svg>
{{else}}
<p class="has-text-grey">No uptime data for {{.Range}}.</p>
{{end}}
{{end}}
`
