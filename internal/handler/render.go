package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codeial/internal/middleware"
	"github.com/hitoshi/codeial/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageNames は描画可能なページテンプレート。各ページはlayout.htmlと組み合わせる。
var pageNames = []string{"home", "sign_in", "sign_up", "profile"}

// pageData はテンプレートに渡す描画コンテキスト。
type pageData struct {
	Title       string
	CurrentUser *model.User
	Flash       *flashMessage
	CSRFToken   string
	Profile     *model.User
}

// Renderer は埋め込みHTMLテンプレートを描画する。
type Renderer struct {
	pages        map[string]*template.Template
	cookieSecure bool
}

// NewRenderer は全ページのテンプレートを解析してRendererを生成する。
func NewRenderer(cookieSecure bool) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages, cookieSecure: cookieSecure}, nil
}

// Render はページを描画する。現在のユーザー、CSRFトークン、フラッシュメッセージは
// リクエストから補完する。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	tmpl, ok := rd.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if user, ok := middleware.UserFromContext(r.Context()); ok {
		data.CurrentUser = user
	}
	data.CSRFToken = middleware.CSRFTokenFromContext(r.Context())
	data.Flash = popFlash(w, r, rd.cookieSecure)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
