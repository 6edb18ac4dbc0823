package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// View is a page of the portal.
type View struct {
	Template string
	Title    string
}

// Routes is the static path table of the portal. /register is an alias of /signup.
var Routes = map[string]View{
	"/":               {Template: "home", Title: "Home"},
	"/signup":         {Template: "signup", Title: "Sign up"},
	"/register":       {Template: "signup", Title: "Sign up"},
	"/login":          {Template: "login", Title: "Log in"},
	"/common-landing": {Template: "chat", Title: "Mediation assistant"},
	"/terms":          {Template: "terms", Title: "Terms and conditions"},
	"/privacy":        {Template: "privacy", Title: "Privacy policy"},
}

// Resolve looks up the view for path. A trailing slash is ignored.
func Resolve(path string) (View, bool) {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	v, ok := Routes[path]
	return v, ok
}

// noRoute sends unknown pages home; unknown API paths get a JSON 404.
func noRoute(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Redirect(http.StatusFound, "/")
}
