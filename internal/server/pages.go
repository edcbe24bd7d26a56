package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/morezero/editor-bridge/internal/transport"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const pagesLogPrefix = "server:pages"

// StatusHandler serves the HTTP status endpoints.
//
//	GET /health                         liveness and subsystem readiness
//	GET /ready                          503 until the mutation thread runs
//	GET /status                         the get_server_status report
//	GET /                               command table page
//	GET /command/<name>                 command detail page
//	GET /command/<name>/openapi.json    OpenAPI document for the command
func (s *Server) StatusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/command/", s.handleCommandDetail())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := s.health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.scheduler.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.status())
	})
	return mux
}

// healthOutput is the /health document.
type healthOutput struct {
	Status      string          `json:"status"`
	Version     string          `json:"version"`
	HostVersion string          `json:"host_version"`
	Subsystems  map[string]bool `json:"subsystems"`
	Commands    int             `json:"commands"`
	Sessions    int             `json:"sessions"`
}

func (s *Server) health() healthOutput {
	h := healthOutput{
		Status:      "healthy",
		Version:     Version,
		HostVersion: s.avail.Version(),
		Subsystems:  s.avail.Snapshot(),
		Commands:    s.reg.Len(),
		Sessions:    s.disp.Stats().Sessions,
	}
	if !s.scheduler.Running() {
		h.Status = "unhealthy"
	}
	return h
}

// homePageTemplate is the HTML for the bridge home page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Editor Bridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Editor Bridge</h1>
  <p class="meta">Version {{.Health.Version}}, host {{.Health.HostVersion}}, {{.Transport}} transport.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <table>
      <thead><tr><th>Subsystem</th><th>Ready</th></tr></thead>
      <tbody>
        {{range .Subsystems}}
        <tr><td>{{.Name}}</td><td>{{if .Ready}}<span class="stat">yes</span>{{else}}<span class="error">no</span>{{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
  </section>

  <section>
    <h2>Statistics</h2>
    <p>Open sessions: <span class="stat">{{.Stats.Sessions}}</span>, in flight: <span class="stat">{{.Stats.InFlight}}</span></p>
    <p>Accepted {{.Stats.Accepted}}, rejected {{.Stats.Rejected}}, completed {{.Stats.Completed}}, timed out {{.Stats.TimedOut}}.</p>
  </section>

  <section>
    <h2>Commands</h2>
    {{if not .Commands}}
    <p>No commands registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Command</th><th>Subsystem</th><th>Mutates</th><th>Ordering</th><th>Description</th></tr>
      </thead>
      <tbody>
        {{range .Commands}}
        <tr>
          <td><a href="/command/{{.Name}}">{{.Name}}</a></td>
          <td>{{.Subsystem}}</td>
          <td>{{if .Mutates}}yes{{end}}</td>
          <td>{{.Ordering}}</td>
          <td>{{.Description}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// commandDetailPageTemplate is the HTML for a single command.
const commandDetailPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Command.Name}} – Editor Bridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; width: 140px; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 0.5rem; }
    section { margin-bottom: 2rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; font-size: 0.85rem; margin: 0.25rem 0; border: 1px solid #eee; }
    .back { margin-bottom: 1rem; }
    .actions { margin: 1rem 0; }
    .btn { display: inline-block; padding: 0.5rem 1rem; background: #0066cc; color: #fff; text-decoration: none; border-radius: 4px; }
    .btn:hover { background: #0052a3; }
  </style>
</head>
<body>
  <p class="back"><a href="/">← Back to commands</a></p>
  <h1>{{.Command.Name}}</h1>
  {{if .Command.Description}}<p class="meta">{{.Command.Description}}</p>{{end}}
  <p class="actions"><a href="/command/{{.Command.Name}}/openapi.json" class="btn">OpenAPI document</a></p>

  <section>
    <h2>Details</h2>
    <table>
      <tr><th>Subsystem</th><td>{{.Command.Subsystem}}</td></tr>
      <tr><th>Mutates</th><td>{{.Command.Mutates}}</td></tr>
      <tr><th>Ordering</th><td>{{.Command.Ordering}}</td></tr>
      <tr><th>Thread safe</th><td>{{.Command.ThreadSafe}}</td></tr>
      <tr><th>Atomic</th><td>{{.Command.Atomic}}</td></tr>
      {{if .Command.Requires}}<tr><th>Requires host</th><td>{{.Command.Requires}}</td></tr>{{end}}
    </table>
  </section>

  <section>
    <h2>Parameters</h2>
    {{if not .Command.Params}}
    <p>No parameters.</p>
    {{else}}
    <table>
      <thead><tr><th>Name</th><th>Type</th><th>Required</th><th>Default</th><th>Description</th></tr></thead>
      <tbody>
        {{range .Command.Params}}
        <tr>
          <td>{{.Name}}</td>
          <td>{{.Type}}</td>
          <td>{{if .Required}}yes{{end}}</td>
          <td>{{if .Default}}{{json .Default}}{{end}}</td>
          <td>{{.Description}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    <details>
      <summary>Input schema</summary>
      <pre>{{json .Schema}}</pre>
    </details>
    {{end}}
  </section>
</body>
</html>
`

type subsystemRow struct {
	Name  string
	Ready bool
}

// homeData is the data passed to the home page template.
type homeData struct {
	Health     healthOutput
	Transport  string
	Subsystems []subsystemRow
	Stats      interface{}
	Commands   []registry.CommandSummary
}

// handleHome returns an HTTP handler for the bridge home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		h := s.health()
		data := homeData{
			Health:    h,
			Transport: s.cfg.TransportMode,
			Stats:     s.disp.Stats(),
		}
		for name, ready := range h.Subsystems {
			data.Subsystems = append(data.Subsystems, subsystemRow{Name: name, Ready: ready})
		}
		sort.Slice(data.Subsystems, func(i, j int) bool { return data.Subsystems[i].Name < data.Subsystems[j].Name })
		for _, d := range s.reg.List() {
			data.Commands = append(data.Commands, d.Summary())
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", pagesLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// commandDetailData is the data passed to the command detail page template.
type commandDetailData struct {
	Command registry.CommandSummary
	Schema  map[string]interface{}
}

// handleCommandDetail returns an HTTP handler for the command detail page and
// its OpenAPI document.
func (s *Server) handleCommandDetail() http.HandlerFunc {
	tmpl := template.Must(template.New("commandDetail").Funcs(template.FuncMap{
		"json": func(v interface{}) string {
			if v == nil {
				return ""
			}
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(b)
		},
	}).Parse(commandDetailPageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/command/")
		if rest == "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		name, suffix := rest, ""
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name, suffix = rest[:idx], rest[idx+1:]
		}
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}

		d, err := s.reg.Lookup(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		switch suffix {
		case "openapi.json":
			spec := buildOpenAPISpec(d.Summary(), d.InputSchema(), Version)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "public, max-age=60")
			if err := json.NewEncoder(w).Encode(spec); err != nil {
				slog.Error(fmt.Sprintf("%s - openapi json encode: %v", pagesLogPrefix, err))
			}
			return
		case "":
		default:
			http.NotFound(w, r)
			return
		}

		data := commandDetailData{Command: d.Summary(), Schema: d.InputSchema()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - command detail template execute: %v", pagesLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// openAPI3 types for describing a command as an operation on the http
// transport.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	Tags        []string                    `json:"tags,omitempty"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Required bool                         `json:"required"`
	Content  map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// buildOpenAPISpec describes one command as a POST of the request envelope to
// the http transport's command path.
func buildOpenAPISpec(c registry.CommandSummary, params map[string]interface{}, version string) *openAPI3Spec {
	if params == nil {
		params = map[string]interface{}{"type": "object"}
	}
	request := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"command"},
		"properties": map[string]interface{}{
			"id":         map[string]interface{}{"type": "string"},
			"command":    map[string]interface{}{"type": "string", "enum": []interface{}{c.Name}},
			"parameters": params,
		},
	}
	response := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"id", "status"},
		"properties": map[string]interface{}{
			"id":     map[string]interface{}{"type": "string"},
			"status": map[string]interface{}{"type": "string", "enum": []interface{}{"success", "error"}},
			"result": map[string]interface{}{},
			"error": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"kind":    map[string]interface{}{"type": "string"},
					"message": map[string]interface{}{"type": "string"},
					"details": map[string]interface{}{"type": "object"},
				},
			},
		},
	}

	desc := c.Description
	if desc == "" {
		desc = "Command " + c.Name
	}
	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info: openAPI3Info{
			Title:       c.Name,
			Description: desc,
			Version:     version,
		},
		Paths: map[string]openAPI3PathItem{
			transport.CommandPath: {
				Post: &openAPI3Operation{
					Summary:     c.Name,
					Description: c.Description,
					OperationID: c.Name,
					Tags:        []string{c.Subsystem},
					RequestBody: &openAPI3RequestBody{
						Required: true,
						Content: map[string]openAPI3MediaType{
							"application/json": {Schema: request},
						},
					},
					Responses: map[string]openAPI3Response{
						"200": {
							Description: "Response envelope; failures carry status error",
							Content: map[string]openAPI3MediaType{
								"application/json": {Schema: response},
							},
						},
					},
				},
			},
		},
	}
}
