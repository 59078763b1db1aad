// Package router implements the trie-based path router spec.md names as a
// collaborator, specified only at its interface (spec §6: "find(method,
// path) -> Option<Handler>"). It is deliberately simple: a prefix trie keyed
// by '/'-separated path segments, built and registered single-threaded, then
// frozen before the server starts (spec §5: "Router: constructed
// single-threaded, frozen before the server starts, read-only thereafter. No
// locking on query paths.").
//
// Loosely grounded on the shape of the teacher package's
// github.com/badu/http/mux.ServeMux (a registered-pattern-to-Handler lookup
// keyed by path), redesigned around a segment trie per the spec's explicit
// "trie-based" requirement rather than ServeMux's longest-registered-prefix
// map scan.
package router

import (
	"sort"
	"strings"

	"github.com/badu/httpd/httperr"
	"github.com/badu/httpd/message"
)

// Handler is the capability a route invokes: given an owned Request, produce
// a Response (spec §9: "model them as a capability ... rather than a class
// hierarchy"). Closures over captured state are the expected form.
type Handler func(*message.Request) *message.Response

type node struct {
	children map[string]*node
	handlers map[message.Method]Handler
	// prefix holds handlers registered for a trailing-slash pattern (e.g.
	// "/static/"), consulted as a fallback when no node matches the full
	// path exactly — the "simple prefix lookup" spec §1 names the router
	// for, layered on top of the exact-match trie used everywhere else.
	prefix map[message.Method]Handler
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Builder accumulates routes before the router is frozen. It is not safe for
// concurrent use; build it on a single goroutine at startup.
type Builder struct {
	root *node
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{root: newNode()}
}

// Handle registers handler for method and path (spec GLOSSARY: "Route — a
// triplet (path, method, handler)"). path is matched exactly, case-
// sensitively, segment by segment; it must begin with "/". A path ending in
// "/" also matches as a subtree prefix for any path beneath it that has no
// more specific registration, the same way net/http.ServeMux treats a
// trailing-slash pattern.
func (b *Builder) Handle(method message.Method, path string, handler Handler) {
	segs := splitPath(path)
	n := b.root
	for _, s := range segs {
		child, ok := n.children[s]
		if !ok {
			child = newNode()
			n.children[s] = child
		}
		n = child
	}
	if n.handlers == nil {
		n.handlers = make(map[message.Method]Handler)
	}
	n.handlers[method] = handler

	// A trailing-slash pattern additionally registers as a subtree prefix,
	// matched by Find whenever no node resolves the full path exactly —
	// the same "/static/" convention net/http's ServeMux uses for subtree
	// patterns, adapted onto a segment trie.
	if strings.HasSuffix(path, "/") {
		if n.prefix == nil {
			n.prefix = make(map[message.Method]Handler)
		}
		n.prefix[method] = handler
	}
}

// Freeze returns a read-only Router over the routes registered so far.
// Freezing is the only way to obtain a Router, enforcing at the type level
// (spec §9) that a Router handed to the server can no longer be mutated.
func (b *Builder) Freeze() *Router {
	return &Router{root: b.root}
}

// Router is the frozen, read-only trie the connection driver consults once
// per request. It holds no lock and has no method that mutates the trie
// (spec §5: "No locking on query paths."). Freeze does not copy the trie:
// Handle calls made on the Builder after Freeze change this Router too.
type Router struct {
	root *node
}

// Find walks the trie for path and returns the handler registered for
// method. Per spec §6: an unmatched path yields RouterMiss (404); a matched
// path with no handler for method yields MethodNotAllowed (405) carrying the
// sorted list of methods registered at that path for the Allow header.
func (r *Router) Find(method message.Method, path string) (Handler, *httperr.Error) {
	segs := splitPath(path)
	n := r.root
	var deepestPrefix map[message.Method]Handler
	if n.prefix != nil {
		deepestPrefix = n.prefix
	}
	for _, s := range segs {
		child, ok := n.children[s]
		if !ok {
			return findPrefix(deepestPrefix, method)
		}
		n = child
		if n.prefix != nil {
			deepestPrefix = n.prefix
		}
	}
	if n.handlers == nil {
		return findPrefix(deepestPrefix, method)
	}
	if h, ok := n.handlers[method]; ok {
		return h, nil
	}
	allow := make([]string, 0, len(n.handlers))
	for m := range n.handlers {
		allow = append(allow, string(m))
	}
	sort.Strings(allow)
	return nil, httperr.MethodNotAllowed(allow)
}

// findPrefix resolves the subtree-pattern fallback for method, or reports a
// RouterMiss if no prefix covers it.
func findPrefix(prefix map[message.Method]Handler, method message.Method) (Handler, *httperr.Error) {
	if h, ok := prefix[method]; ok {
		return h, nil
	}
	return nil, httperr.NotFound()
}

// splitPath breaks a request target's path portion into trie segments,
// dropping any query/fragment suffix and collapsing the root to an empty
// segment list. Percent-encoding is preserved verbatim (spec §3: "no query
// parsing required beyond preservation"); this router does not decode it,
// matching literal segments as registered.
func splitPath(target string) []string {
	p := target
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
