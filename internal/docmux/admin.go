package docmux

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

var tailPage = template.Must(template.New("tail").Parse(`<!doctype html>
<html><head><title>{{.Name}} feed</title>
<style>body{font-family:monospace;font-size:12px}pre{white-space:pre-wrap;margin:0}</style>
</head><body>
<h3>{{.Name}}: live documents</h3>
<div id="out"></div>
<script>
const out = document.getElementById("out");
const es = new EventSource("{{.TailURL}}");
es.onmessage = (e) => {
  const p = document.createElement("pre");
  p.textContent = e.data;
  out.prepend(p);
  while (out.childNodes.length > 200) out.removeChild(out.lastChild);
};
</script>
</body></html>
`))

// AttachAdminRoutes mounts, under /debug/docmux/<name>/, an HTML tail page,
// its Server-Sent Events stream and a POST endpoint that writes a line to
// the feed. These routes are reachable only over localhost or Tailscale.
func (m *DocMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	base := "docmux/" + m.name + "/"

	debug.HandleFunc(base, fmt.Sprintf("live tail of the %s document feed", m.name), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tailPage.Execute(w, map[string]string{"Name": m.name, "TailURL": "/debug/" + base + "tail"}); err != nil {
			logf("%s: render tail page: %v", m.name, err)
		}
	})

	debug.HandleSilentFunc(base+"send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		line := strings.TrimSpace(r.FormValue("line"))
		if line == "" {
			http.Error(w, "Missing line", http.StatusBadRequest)
			return
		}
		if err := m.Send(line); err != nil {
			http.Error(w, "Failed to write line", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote %d bytes to %s", len(line)+1, m.name))
	})

	debug.HandleSilentFunc(base+"tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
