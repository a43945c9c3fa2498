package server

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body data-page="{{.Name}}">
<main>
<h1>{{.Title}}</h1>
<p>{{.Body}}</p>
</main>
</body>
</html>
`))

type page struct {
	Name  string
	Title string
	Body  string
}

// Shell pages for the browser client. Access control happens in the gate.
func (s *Server) pageRoutes(r chi.Router) {
	r.Get("/", renderPage(page{Name: "chat", Title: "Chat", Body: "Pick a model and start a conversation."}))
	r.Get("/login", renderPage(page{Name: "site-login", Title: "Sign in", Body: "Enter the site password to continue."}))
	r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/dashboard", http.StatusFound)
	})
	r.Get("/admin/login", renderPage(page{Name: "admin-login", Title: "Admin sign in", Body: "Enter the admin password."}))
	r.Get("/admin/dashboard", renderPage(page{Name: "admin-dashboard", Title: "Dashboard", Body: "Manage models and access settings."}))
}

func renderPage(p page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = pageTemplate.Execute(w, p)
	}
}
