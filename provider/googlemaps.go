package provider

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

var (
	mapsTravelModes = []string{"driving", "walking", "bicycling", "transit"}
	htmlTag         = regexp.MustCompile(`<[^>]*>`)
)

const mapsDetailFields = "name,formatted_address,formatted_phone_number,international_phone_number,website,url,rating,user_ratings_total,geometry/location,opening_hours/weekday_text,types,business_status"

// GoogleMaps wraps the geocoding, places, distance matrix and directions web
// services. These report failures with a "status" field in 200 responses.
type GoogleMaps struct {
	base
}

var _ Provider = &GoogleMaps{}

func NewGoogleMaps(cfg config.GoogleMaps, opts upstream.Options) *GoogleMaps {
	return &GoogleMaps{
		base: newBase(config.ProviderGoogleMaps, cfg.BaseURL, "https://maps.googleapis.com/maps/api", upstream.QueryAuth("key", cfg.Key), opts),
	}
}

func (p *GoogleMaps) Instructions() string {
	return "Geocode addresses, search places and get their details, and compute distances and directions with Google Maps."
}

func (p *GoogleMaps) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "geocode"),
				mcp.WithDescription("Convert an address into coordinates."),
				mcp.WithString("address", mcp.Required(), mcp.MaxLength(1000)),
				mcp.WithString("region", mcp.Description("ccTLD region code biasing the results, e.g. de.")),
				mcp.WithString("language"),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.geocode),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "reverse_geocode"),
				mcp.WithDescription("Convert coordinates into addresses."),
				mcp.WithNumber("lat", mcp.Required(), mcp.Min(-90), mcp.Max(90)),
				mcp.WithNumber("lng", mcp.Required(), mcp.Min(-180), mcp.Max(180)),
				mcp.WithString("language"),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.reverseGeocode),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "search_places"),
				mcp.WithDescription("Search places by text, e.g. 'pizza in Berlin'."),
				mcp.WithString("query", mcp.Required(), mcp.MaxLength(1000)),
				mcp.WithString("location", mcp.Description("Bias results around 'lat,lng'.")),
				mcp.WithNumber("radius", mcp.Description("Bias radius in meters."), mcp.Min(1), mcp.Max(50000)),
				mcp.WithString("type", mcp.Description("Place type, e.g. restaurant.")),
				mcp.WithBoolean("open_now", mcp.DefaultBool(false)),
				mcp.WithString("page_token", mcp.Description("next_page_token of a previous call.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.searchPlaces),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "place_details"),
				mcp.WithDescription("Get contact details, rating and opening hours of a place."),
				mcp.WithString("place_id", mcp.Required()),
				mcp.WithString("language"),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.placeDetails),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "distance_matrix"),
				mcp.WithDescription("Compute travel distance and time between every origin and destination."),
				mcp.WithArray("origins", mcp.Required(), mcp.Description("Addresses or 'lat,lng' pairs."), mcp.WithStringItems()),
				mcp.WithArray("destinations", mcp.Required(), mcp.Description("Addresses or 'lat,lng' pairs."), mcp.WithStringItems()),
				mcp.WithString("mode", mcp.Enum(mapsTravelModes...), mcp.DefaultString("driving")),
				mcp.WithString("units", mcp.Enum("metric", "imperial"), mcp.DefaultString("metric")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.distanceMatrix),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "directions"),
				mcp.WithDescription("Get step by step directions between two places."),
				mcp.WithString("origin", mcp.Required()),
				mcp.WithString("destination", mcp.Required()),
				mcp.WithString("mode", mcp.Enum(mapsTravelModes...), mcp.DefaultString("driving")),
				mcp.WithArray("waypoints", mcp.WithStringItems()),
				mcp.WithBoolean("alternatives", mcp.DefaultBool(false)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.directions),
		},
	}
}

func (p *GoogleMaps) geocode(ctx context.Context, a *argReader) (any, error) {
	q := url.Values{"address": {a.requireString("address", 1000)}}
	mapsOptional(a, q, "region", "language")
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.get(ctx, "geocode", "/geocode/json", q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": mapsGeocodeResults(resp)}, nil
}

func (p *GoogleMaps) reverseGeocode(ctx context.Context, a *argReader) (any, error) {
	lat := a.requireFloat("lat", -90, 90)
	lng := a.requireFloat("lng", -180, 180)
	q := url.Values{}
	mapsOptional(a, q, "language")
	if err := a.err(); err != nil {
		return nil, err
	}
	q.Set("latlng", formatFloat(lat)+","+formatFloat(lng))

	resp, err := p.get(ctx, "reverse_geocode", "/geocode/json", q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": mapsGeocodeResults(resp)}, nil
}

func (p *GoogleMaps) searchPlaces(ctx context.Context, a *argReader) (any, error) {
	q := url.Values{"query": {a.requireString("query", 1000)}}
	mapsOptional(a, q, "location", "type", "page_token")
	if a.has("radius") {
		q.Set("radius", strconv.Itoa(a.integer("radius", 0, 1, 50000)))
	}
	if a.boolean("open_now", false) {
		q.Set("opennow", "true")
	}
	if err := a.err(); err != nil {
		return nil, err
	}
	if token := q.Get("page_token"); token != "" {
		q.Del("page_token")
		q.Set("pagetoken", token)
	}

	resp, err := p.get(ctx, "search_places", "/place/textsearch/json", q)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"places": projectEach(resp.Get("results"),
			"name", "name",
			"place_id", "place_id",
			"address", "formatted_address",
			"location", "geometry.location",
			"rating", "rating",
			"ratings", "user_ratings_total",
			"open_now", "opening_hours.open_now",
			"types", "types",
		),
	}
	setIf(out, "next_page_token", resp.Get("next_page_token").String())
	return out, nil
}

func (p *GoogleMaps) placeDetails(ctx context.Context, a *argReader) (any, error) {
	q := url.Values{
		"place_id": {a.requireString("place_id", 0)},
		"fields":   {mapsDetailFields},
	}
	mapsOptional(a, q, "language")
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.get(ctx, "place_details", "/place/details/json", q)
	if err != nil {
		return nil, err
	}
	return project(resp.Get("result"),
		"name", "name",
		"address", "formatted_address",
		"phone", "formatted_phone_number",
		"international_phone", "international_phone_number",
		"website", "website",
		"maps_url", "url",
		"rating", "rating",
		"ratings", "user_ratings_total",
		"location", "geometry.location",
		"opening_hours", "opening_hours.weekday_text",
		"types", "types",
		"business_status", "business_status",
	), nil
}

func (p *GoogleMaps) distanceMatrix(ctx context.Context, a *argReader) (any, error) {
	origins := a.stringSlice("origins", true, 25)
	destinations := a.stringSlice("destinations", true, 25)
	mode := a.enum("mode", "driving", mapsTravelModes...)
	units := a.enum("units", "metric", "metric", "imperial")
	if err := a.err(); err != nil {
		return nil, err
	}
	if len(origins)*len(destinations) > 100 {
		return nil, &ArgError{Name: "destinations", Reason: "at most 100 origin and destination pairs are allowed"}
	}

	resp, err := p.get(ctx, "distance_matrix", "/distancematrix/json", url.Values{
		"origins":      {strings.Join(origins, "|")},
		"destinations": {strings.Join(destinations, "|")},
		"mode":         {mode},
		"units":        {units},
	})
	if err != nil {
		return nil, err
	}

	originAddrs := resp.Get("origin_addresses").Array()
	destAddrs := resp.Get("destination_addresses").Array()
	pairs := []map[string]any{}
	for i, row := range resp.Get("rows").Array() {
		for j, el := range row.Get("elements").Array() {
			pair := map[string]any{
				"origin":      mapsAddress(originAddrs, i, origins),
				"destination": mapsAddress(destAddrs, j, destinations),
				"status":      el.Get("status").String(),
			}
			if el.Get("status").String() == "OK" {
				pair["distance"] = el.Get("distance.text").String()
				pair["distance_meters"] = el.Get("distance.value").Int()
				pair["duration"] = el.Get("duration.text").String()
				pair["duration_seconds"] = el.Get("duration.value").Int()
			}
			pairs = append(pairs, pair)
		}
	}
	return map[string]any{"results": pairs}, nil
}

func (p *GoogleMaps) directions(ctx context.Context, a *argReader) (any, error) {
	q := url.Values{
		"origin":      {a.requireString("origin", 0)},
		"destination": {a.requireString("destination", 0)},
		"mode":        {a.enum("mode", "driving", mapsTravelModes...)},
	}
	if waypoints := a.stringSlice("waypoints", false, 25); len(waypoints) > 0 {
		q.Set("waypoints", strings.Join(waypoints, "|"))
	}
	if a.boolean("alternatives", false) {
		q.Set("alternatives", "true")
	}
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.get(ctx, "directions", "/directions/json", q)
	if err != nil {
		return nil, err
	}

	routes := []map[string]any{}
	for _, r := range resp.Get("routes").Array() {
		legs := []map[string]any{}
		for _, leg := range r.Get("legs").Array() {
			steps := []map[string]any{}
			for _, step := range leg.Get("steps").Array() {
				steps = append(steps, map[string]any{
					"instruction": stripHTML(step.Get("html_instructions").String()),
					"distance":    step.Get("distance.text").String(),
					"duration":    step.Get("duration.text").String(),
				})
			}
			legs = append(legs, map[string]any{
				"start_address": leg.Get("start_address").String(),
				"end_address":   leg.Get("end_address").String(),
				"distance":      leg.Get("distance.text").String(),
				"duration":      leg.Get("duration.text").String(),
				"steps":         steps,
			})
		}
		route := map[string]any{
			"summary": r.Get("summary").String(),
			"legs":    legs,
		}
		if warnings := r.Get("warnings").Array(); len(warnings) > 0 {
			route["warnings"] = r.Get("warnings").Value()
		}
		routes = append(routes, route)
	}
	return map[string]any{"routes": routes}, nil
}

func (p *GoogleMaps) get(ctx context.Context, endpoint, path string, q url.Values) (gjson.Result, error) {
	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: endpoint, Path: path, Query: q})
	if err != nil {
		return gjson.Result{}, err
	}

	body := resp.JSON()
	switch status := body.Get("status").String(); status {
	case "OK", "ZERO_RESULTS":
		return body, nil
	default:
		if msg := body.Get("error_message").String(); msg != "" {
			return gjson.Result{}, fmt.Errorf("google maps: %s: %s", status, msg)
		}
		return gjson.Result{}, fmt.Errorf("google maps: %s", status)
	}
}

func mapsOptional(a *argReader, q url.Values, names ...string) {
	for _, name := range names {
		if v := a.optionalString(name, 0); v != "" {
			q.Set(name, v)
		}
	}
}

func mapsGeocodeResults(r gjson.Result) []map[string]any {
	return projectEach(r.Get("results"),
		"address", "formatted_address",
		"place_id", "place_id",
		"location", "geometry.location",
		"location_type", "geometry.location_type",
		"types", "types",
	)
}

// mapsAddress returns the resolved address at i, or the caller's input when
// the API did not resolve one.
func mapsAddress(resolved []gjson.Result, i int, input []string) string {
	if i < len(resolved) && resolved[i].String() != "" {
		return resolved[i].String()
	}
	if i < len(input) {
		return input[i]
	}
	return ""
}

func stripHTML(s string) string {
	s = html.UnescapeString(htmlTag.ReplaceAllString(s, " "))
	return strings.Join(strings.Fields(s), " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
