package web

import (
	"embed"
	"html/template"

	"legalease/internal/models"
)

//go:embed views/*.tmpl
var viewFS embed.FS

var funcs = template.FuncMap{
	"isUser": func(role models.Role) bool { return role == models.RoleUser },
}

// Templates parses every embedded view. Pages are addressed by their define name.
func Templates() *template.Template {
	return template.Must(template.New("views").Funcs(funcs).ParseFS(viewFS, "views/*.tmpl"))
}
