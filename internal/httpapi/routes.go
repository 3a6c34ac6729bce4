package httpapi

import (
	"net/http"
	"sort"
	"strings"
)

// Route maps a method and an exact path onto a handler.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

type router struct {
	paths map[string]map[string]http.HandlerFunc
}

func newRouter(routes []Route) *router {
	r := &router{paths: make(map[string]map[string]http.HandlerFunc)}
	for _, route := range routes {
		methods, ok := r.paths[route.Path]
		if !ok {
			methods = make(map[string]http.HandlerFunc)
			r.paths[route.Path] = methods
		}
		methods[route.Method] = route.Handler
	}
	return r
}

// ServeHTTP implements the http.Handler interface.
func (r *router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.paths[req.URL.Path]
	if !ok {
		http.NotFound(w, req)
		return
	}

	h, ok := methods[req.Method]
	if !ok {
		allowed := make([]string, 0, len(methods))
		for m := range methods {
			allowed = append(allowed, m)
		}
		sort.Strings(allowed)
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	h(w, req)
}
