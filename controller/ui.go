package controller

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/log"
)

var funcMap = template.FuncMap{
	"reltime": reltime,
}

var page = template.Must(template.New("page").Funcs(funcMap).Parse(`

{{- define "runline" -}}
<time
  datetime={{.RanAt.Local.Format "2006-01-02T15:04:05.000Z07:00"}}
  title={{.RanAt.Local.Format "2006-01-02T15:04:05.000Z07:00"}}
>
{{- reltime .RanAt | printf "%8s" -}}
</time> <a href=/run/{{.ID}}>run</a> {{printf "%.10s" .Ref}} on {{.Agents}} agent(s)
{{- if eq .Result 0}} ok {{else}} <b>result {{.Result}}</b>{{end -}}
{{- end -}}

<!doctype html>
<meta name=viewport content="initial-scale=1">
<title>{{block "title" .}}hilbot{{end}}</title>
<link rel=stylesheet href=/static/a.css>
<script src=/static/a.js async></script>
<pre style="white-space: pre-wrap">
{{- template "content" . -}}
{{- /*
Leave the pre element open. The live handler appends more
output after the template is rendered, so we have no chance
to put anything, such as a closing pre tag, at the end of
the document.
*/ -}}
`))

var homePage = template.Must(template.Must(page.Clone()).Parse(`

{{define "content"}}
<b>hilbot</b> <a href=guide.txt>guide.txt</a>

<b>agents</b>
{{- range .Agents}}
{{.Name}} on {{.Host}} ({{.Branch}} {{printf "%.10s" .Hash}}) activated {{len .Activated}} running {{len .Running}}
{{- else}}
(no agents reachable)
{{- end}}

<b>runs</b> (just the last {{len .Runs}} of them)
{{- range .Runs}}
{{template "runline" .}}
{{- else}}
{{.ErrRun}}
{{- end}}
{{end}}

`))

var runPage = template.Must(template.Must(page.Clone()).Parse(`

{{define "title"}}{{.Title}}{{end}}

{{define "content"}}
<b>{{.Title}}</b>

{{- range .Results}}
{{.Agent}} {{.Session}}: instances {{.Instances}}
{{- if eq .Result 0}} ok {{else}} <b>result {{.Result}}</b>{{end}} in {{.Elapsed}}
{{- range .URLs}}
  <a href={{.}}>{{.}}</a>
{{- end}}
{{- else}}
(no per-agent results recorded)
{{- end}}
{{end}}

`))

var livePage = template.Must(template.Must(page.Clone()).Parse(`

{{define "title"}}{{.Title}}{{end}}

{{define "content"}}
<b>{{.Title}}</b>

<b>output</b>
{{end}}

`))

const css = `
body { font-family: monospace; margin: 1em; }
a { color: #06c; }
b { color: #c00; }
`

const js = `
const s=1000, m=60*s, h=60*m, a=24*h;
const month = [
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
];

function reltime(t) {
	const d = Date.now() - t.getTime();
	if (d < 5*s) return '<5s ago';
	if (d < 2*m) return Math.round(d/s) + 's ago';
	if (d < 2*h) return Math.round(d/m) + 'm ago';
	if (d < 2*a) return Math.round(d/h) + 'h ago';
	if (d < 90*a) return Math.round(d/a) + 'd ago';
	return month[t.getMonth()] + ' ' + t.getFullYear();
}

function update() {
	for (const e of document.querySelectorAll('time[datetime]')) {
		const s = reltime(new Date(e.dateTime));
		const p = ' '.repeat(Math.max(0, 8 - s.length));
		e.innerText = p + s;
	}
}

setInterval(update, 5*s);
`

// reltime returns the approximate duration since time t.
// For times more than 90 days ago, it returns the
// absolute month and year.
func reltime(t time.Time) string {
	switch d := time.Since(t); {
	case d < 5*time.Second:
		return "<5s ago"
	case d < 2*time.Minute:
		return fmt.Sprintf("%ds ago", roundDur(d, time.Second))
	case d < 2*time.Hour:
		return fmt.Sprintf("%dm ago", roundDur(d, time.Minute))
	case d < 2*24*time.Hour:
		return fmt.Sprintf("%dh ago", roundDur(d, time.Hour))
	case d < 90*24*time.Hour:
		return fmt.Sprintf("%dd ago", roundDur(d, 24*time.Hour))
	}
	return t.Format("Jan 2006")
}

func roundDur(n, d time.Duration) int {
	return int((n + d/2) / d)
}

var modtime = time.Now()

func static(name, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r := strings.NewReader(body)
		http.ServeContent(w, req, name, modtime, r)
	}
}

func (c *Controller) index(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	data := struct {
		Agents []*RemoteAgent
		Runs   []RunRecord
		ErrRun string
	}{
		Agents: Discover(req.Context(), c.Agents),
	}
	if c.Store != nil {
		runs, err := c.Store.RecentRuns(req.Context(), 50)
		if err != nil {
			data.ErrRun = err.Error()
		}
		data.Runs = runs
	} else {
		data.ErrRun = "(no result store configured)"
	}
	err := homePage.Execute(w, data)
	if err != nil {
		log.Error(req.Context(), err)
	}
}

func (c *Controller) runDetail(w http.ResponseWriter, req *http.Request) {
	if c.Store == nil {
		http.Error(w, "no result store configured", 404)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.URL.Path, "/run/"), 10, 64)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	results, err := c.Store.AgentResults(req.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	data := struct {
		Title   string
		Results []AgentRecord
	}{
		Title:   fmt.Sprintf("run %d", id),
		Results: results,
	}
	err = runPage.Execute(w, data)
	if err != nil {
		log.Error(req.Context(), err)
	}
}

// live proxies an agent's session output stream to the browser,
// HTML-escaped and flushed line by line. Path:
// /live/<agent-name>/<session>.
func (c *Controller) live(w http.ResponseWriter, req *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/live/"), "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, req)
		return
	}
	agentName, session := parts[0], parts[1]

	var target *RemoteAgent
	for _, r := range Discover(req.Context(), c.Agents) {
		if r.Name == agentName {
			target = r
			break
		}
	}
	if target == nil {
		http.Error(w, "no such agent", 404)
		return
	}

	data := struct{ Title string }{Title: agentName + " " + session}
	err := livePage.Execute(w, data)
	if err != nil {
		log.Error(req.Context(), err)
		return
	}

	resp, err := http.Get(target.URL + "/live/" + session)
	if err != nil {
		fmt.Fprintln(w, "(live output unavailable:", err, ")")
		return
	}
	defer resp.Body.Close()

	flush := func() {}
	if fl, ok := w.(http.Flusher); ok {
		flush = fl.Flush
	}
	io.Copy(hilbot.FlushWriter(escapeWriter{w}, flush), resp.Body)
}

type escapeWriter struct {
	w io.Writer
}

func (w escapeWriter) Write(p []byte) (int, error) {
	template.HTMLEscape(w.w, p)
	return len(p), nil // HTMLEscape has no return value
}
