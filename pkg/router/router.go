// Package router matches collector API paths such as /api/v1/:project/item/:id
package router

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	apierrors "github.com/labring/testreport/pkg/errors"
)

var paramRegex = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

type Route struct {
	method  string
	pattern string
	regex   *regexp.Regexp
	params  []string
	handler http.HandlerFunc
}

// Router matches routes in registration order
type Router struct {
	routes []Route
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{
		routes: make([]Route, 0),
	}
}

// Register registers a route with the router
func (r *Router) Register(method, pattern string, handler http.HandlerFunc) {
	regex, params := r.compilePattern(pattern)

	r.routes = append(r.routes, Route{
		method:  strings.ToUpper(method),
		pattern: pattern,
		regex:   regex,
		params:  params,
		handler: handler,
	})
}

// Match finds a route for method and the escaped request path.
// Parameter values are path-unescaped; a value that fails to unescape is kept raw.
func (r *Router) Match(method, path string) (http.HandlerFunc, map[string]string, bool) {
	method = strings.ToUpper(method)

	for _, route := range r.routes {
		if route.method != method {
			continue
		}

		matches := route.regex.FindStringSubmatch(path)
		if matches == nil {
			continue
		}

		params := make(map[string]string, len(route.params))
		for i, param := range route.params {
			if i+1 >= len(matches) {
				break
			}
			if decoded, err := url.PathUnescape(matches[i+1]); err == nil {
				params[param] = decoded
			} else {
				params[param] = matches[i+1]
			}
		}

		return route.handler, params, true
	}

	return nil, nil, false
}

// allowed returns the methods registered for path
func (r *Router) allowed(path string) []string {
	var methods []string
	seen := make(map[string]struct{})
	for _, route := range r.routes {
		if !route.regex.MatchString(path) {
			continue
		}
		if _, ok := seen[route.method]; ok {
			continue
		}
		seen[route.method] = struct{}{}
		methods = append(methods, route.method)
	}
	return methods
}

// compilePattern converts a route pattern to a regular expression
func (r *Router) compilePattern(pattern string) (*regexp.Regexp, []string) {
	var params []string

	regexPattern := paramRegex.ReplaceAllStringFunc(pattern, func(match string) string {
		params = append(params, strings.TrimPrefix(match, ":"))
		return `([^/]+)`
	})
	regexPattern = strings.ReplaceAll(regexPattern, `*`, `(.*)`)

	return regexp.MustCompile("^" + regexPattern + "$"), params
}

// ServeHTTP implements the http.Handler interface. Unknown paths get a 404
// envelope and known paths with another method a 405 envelope.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := req.URL.EscapedPath()

	handler, params, found := r.Match(req.Method, path)
	if !found {
		if methods := r.allowed(path); len(methods) > 0 {
			w.Header().Set("Allow", strings.Join(methods, ", "))
			apierrors.WriteErrorResponse(w, http.StatusMethodNotAllowed,
				apierrors.NewIncorrectRequestError("Method %s is not allowed for %s", req.Method, req.URL.Path))
			return
		}
		apierrors.WriteError(w, apierrors.NewNotFoundError("Route", req.URL.Path))
		return
	}

	if len(params) > 0 {
		ctx := context.WithValue(req.Context(), paramsContextKey{}, params)
		req = req.WithContext(ctx)
	}

	handler(w, req)
}

// paramsContextKey is the context key type for route params
type paramsContextKey struct{}

// Param returns the path parameter value from request context
func Param(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	m, ok := r.Context().Value(paramsContextKey{}).(map[string]string)
	if !ok {
		return ""
	}
	return m[name]
}
