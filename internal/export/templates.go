package export

import (
	"bytes"
	"html/template"
	"time"
)

var scheduleTemplate = template.Must(template.New("schedule").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.Format("15:04") },
	"date":  func(t time.Time) string { return t.Format("Monday, January 2, 2006") },
}).Parse(scheduleHTML))

// RenderScheduleHTML renders s as a standalone HTML page.
func RenderScheduleHTML(s Schedule) (string, error) {
	var buf bytes.Buffer
	if err := scheduleTemplate.Execute(&buf, s); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const scheduleHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: A4 landscape; margin: 12mm; }
    body { font-family: Arial, sans-serif; line-height: 1.4; margin: 1rem; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; width: 100%; table-layout: fixed; }
    th, td { border: 1px solid #999; padding: 0.4rem; vertical-align: top; }
    th.time, td.time { width: 7rem; white-space: nowrap; }
    td.common { background: #f0f0f0; text-align: center; font-weight: bold; }
    .authors { color: #555; font-size: 0.85em; }
    .pinned::before { content: "📌 "; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{date .Day}}</div>
  <table>
    <thead>
      <tr>
        <th class="time">Time</th>
        {{range .Tracks}}<th>{{.Icon}} {{.Name}}</th>{{end}}
      </tr>
    </thead>
    <tbody>
      {{$tracks := len .Tracks}}
      {{range .Rows}}
      <tr>
        <td class="time">{{clock .Start}} – {{clock .End}}</td>
        {{if .Common}}
        <td class="common" colspan="{{$tracks}}">{{.Icon}} {{.Summary}}</td>
        {{else}}
        {{range .Cells}}
        <td>{{if not .Empty}}<div{{if .Pinned}} class="pinned"{{end}}>{{.Title}}</div><div class="authors">{{.Authors}}</div>{{end}}</td>
        {{end}}
        {{end}}
      </tr>
      {{end}}
    </tbody>
  </table>
  {{if .ParkingLot}}
  <h2>Not yet scheduled</h2>
  <ul>
    {{range .ParkingLot}}<li>{{.Title}} <span class="authors">{{.Authors}}</span></li>{{end}}
  </ul>
  {{end}}
</body>
</html>`
