package page

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/klipach/contactcast/auth"
	"github.com/klipach/contactcast/log"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var markdownPolicy = bluemonday.UGCPolicy()

type view struct {
	Title      string
	Notices    []Notice
	AutoHideMS int64
	User       *auth.User
	Email      string
	State      *State
	Limit      int
	Full       bool
	// LastDispatchHTML is the last broadcast rendered from Markdown.
	LastDispatchHTML template.HTML
}

func parseTemplates() (*template.Template, error) {
	return template.New("pages").ParseFS(templateFS, "templates/*.tmpl")
}

// renderMarkdown converts broadcast text to sanitized HTML.
func renderMarkdown(text string) template.HTML {
	if text == "" {
		return ""
	}
	unsafe := blackfriday.Run([]byte(text))
	return template.HTML(markdownPolicy.SanitizeBytes(unsafe)) //nolint:gosec
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name string, v view) {
	v.AutoHideMS = NoticeAutoHide.Milliseconds()
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, v); err != nil {
		log.LoggerFromContext(r.Context()).Error("error while rendering template",
			slog.String("template", name),
			slog.String(ErrorMsgLogField, err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
