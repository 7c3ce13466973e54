package proto

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/vovakirdan/deploydeck/internal/backend"
)

// Query string parameter names.
const (
	ParamOrder      = "order"
	ParamDesc       = "desc"
	ParamLimit      = "limit"
	ParamCollection = "collection"
	ParamEvent      = "event"

	// FilterPrefix marks an equality filter: eq.<field>=<value>.
	FilterPrefix = "eq."
)

// EncodeQuery renders q as URL query parameters.
func EncodeQuery(q backend.Query) url.Values {
	v := url.Values{}
	if q.OrderBy != "" {
		v.Set(ParamOrder, q.OrderBy)
	}
	if q.Descending {
		v.Set(ParamDesc, "true")
	}
	if q.Limit > 0 {
		v.Set(ParamLimit, strconv.Itoa(q.Limit))
	}
	encodeMatch(v, q.Filter)
	return v
}

// DecodeQuery parses URL query parameters into a query. Unknown
// parameters are ignored.
func DecodeQuery(v url.Values) (backend.Query, error) {
	q := backend.Query{
		OrderBy: v.Get(ParamOrder),
		Filter:  decodeMatch(v),
	}
	if raw := v.Get(ParamDesc); raw != "" {
		desc, err := strconv.ParseBool(raw)
		if err != nil {
			return q, fmt.Errorf("%w: desc=%q", backend.ErrInvalidQuery, raw)
		}
		q.Descending = desc
	}
	if raw := v.Get(ParamLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, fmt.Errorf("%w: limit=%q", backend.ErrInvalidQuery, raw)
		}
		q.Limit = limit
	}
	return q, nil
}

// EncodeSubscription renders a realtime subscription request.
func EncodeSubscription(collection string, f backend.EventFilter) url.Values {
	v := url.Values{}
	v.Set(ParamCollection, collection)
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	if len(types) > 0 {
		v.Set(ParamEvent, strings.Join(types, ","))
	}
	encodeMatch(v, f.Match)
	return v
}

// DecodeSubscription parses a realtime subscription request.
func DecodeSubscription(v url.Values) (string, backend.EventFilter, error) {
	collection := v.Get(ParamCollection)
	if !backend.KnownCollection(collection) {
		return "", backend.EventFilter{}, fmt.Errorf("%w: %q", backend.ErrUnknownCollection, collection)
	}

	var f backend.EventFilter
	for _, raw := range v[ParamEvent] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := backend.ParseEventType(part)
			if err != nil {
				return "", backend.EventFilter{}, err
			}
			f.Types = append(f.Types, t)
		}
	}
	f.Match = decodeMatch(v)
	return collection, f, nil
}

func encodeMatch(v url.Values, match map[string]string) {
	fields := make([]string, 0, len(match))
	for field := range match {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		v.Set(FilterPrefix+field, match[field])
	}
}

func decodeMatch(v url.Values) map[string]string {
	var match map[string]string
	for key, values := range v {
		field, ok := strings.CutPrefix(key, FilterPrefix)
		if !ok || field == "" || len(values) == 0 {
			continue
		}
		if match == nil {
			match = make(map[string]string)
		}
		match[field] = values[0]
	}
	return match
}
