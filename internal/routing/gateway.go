package routing

import (
	"context"
	"net/http"

	"github.com/pkordes/triplog/internal/domain"
)

// Gateway talks to a routing gateway whose request format is not known in
// advance. It tries each known request shape in turn and searches every
// response for each known result shape.
type Gateway struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// resultShapes are the locations a distance in meters has been seen at.
var resultShapes = [][]any{
	{"routes", 0, "summary", "distance"},
	{"routes", 0, "distance"},
	{"paths", 0, "distance"},
	{"features", 0, "properties", "summary", "distance"},
	{"rows", 0, "elements", 0, "distance", "value"},
	{"distance"},
}

func (g *Gateway) Name() string { return NameGateway }

// Ready reports whether GET /ready answers with a 2xx status. A JSON body
// with "ready": false counts as not ready.
func (g *Gateway) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/ready", nil)
	if err != nil {
		return false
	}
	v, ok := doJSON(g.client, req, g.header())
	if !ok {
		return false
	}
	if m, isObj := v.(map[string]any); isObj {
		if ready, has := m["ready"].(bool); has {
			return ready
		}
	}
	return true
}

func (g *Gateway) Route(ctx context.Context, start, end domain.GeoPoint) Outcome {
	attempts := []func() (any, bool){
		func() (any, bool) { return postJSON(ctx, g.client, g.endpoint+"/route", orsBody(start, end), g.header()) },
		func() (any, bool) {
			return getJSON(ctx, g.client, pointQueryURL(g.endpoint+"/route", start, end, ""), g.header())
		},
		func() (any, bool) { return getJSON(ctx, g.client, osrmURL(g.endpoint, start, end), g.header()) },
	}

	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return Unavailable()
		}
		v, ok := attempt()
		if !ok {
			continue
		}
		if out := findDistance(v); out != (Outcome{}) {
			return out
		}
	}
	return Unavailable()
}

func (g *Gateway) header() http.Header {
	h := http.Header{}
	if g.apiKey != "" {
		h.Set("Authorization", g.apiKey)
	}
	return h
}

// findDistance returns the first usable distance found in v.
func findDistance(v any) Outcome {
	for _, shape := range resultShapes {
		if m, ok := lookup(v, shape...); ok {
			if out := fromMeters(m); out != (Outcome{}) {
				return out
			}
		}
	}
	return Unavailable()
}
