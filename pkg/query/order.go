package query

import (
	"log/slog"
	"strings"
)

// Attribute names a sortable or filterable column.
type Attribute string

const (
	AttrUnknown       Attribute = "unknown"
	AttrID            Attribute = "id"
	AttrName          Attribute = "name"
	AttrPackage       Attribute = "package"
	AttrVersion       Attribute = "version"
	AttrDistribution  Attribute = "distribution"
	AttrLevel         Attribute = "level"
	AttrRole          Attribute = "role"
	AttrPlatform      Attribute = "platform"
	AttrSite          Attribute = "site"
	AttrShow          Attribute = "show"
	AttrDepth         Attribute = "depth"
	AttrTransactionID Attribute = "transaction_id"
	AttrAuthor        Attribute = "author"
	AttrDatetime      Attribute = "datetime"
	AttrAction        Attribute = "action"
	AttrOrder         Attribute = "order"
)

var knownAttributes = map[string]Attribute{
	"id":             AttrID,
	"name":           AttrName,
	"package":        AttrPackage,
	"version":        AttrVersion,
	"distribution":   AttrDistribution,
	"level":          AttrLevel,
	"role":           AttrRole,
	"platform":       AttrPlatform,
	"site":           AttrSite,
	"show":           AttrShow,
	"depth":          AttrDepth,
	"transaction_id": AttrTransactionID,
	"transactionid":  AttrTransactionID,
	"author":         AttrAuthor,
	"datetime":       AttrDatetime,
	"action":         AttrAction,
	"order":          AttrOrder,
}

// ParseAttribute maps a token to an Attribute. Unrecognized tokens yield
// AttrUnknown rather than an error so that newer clients can talk to older
// services.
func ParseAttribute(s string) Attribute {
	if a, ok := knownAttributes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a
	}
	return AttrUnknown
}

// ParseOrderBy splits a comma or dot separated list of attribute names.
func ParseOrderBy(s string) []Attribute {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	tokens := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '.' })
	out := make([]Attribute, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, ParseAttribute(t))
	}
	return out
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
	// DirectionUnrecognized marks an input that did not parse; consumers ignore it.
	DirectionUnrecognized Direction = "unrecognized"
)

// ParseDirection parses asc/desc (also ascending/descending). Anything else
// returns DirectionUnrecognized.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Asc
	case "desc", "descending":
		return Desc
	}
	return DirectionUnrecognized
}

// Sort carries the raw ordering and pagination fields of a bulk request.
type Sort struct {
	OrderBy        string `json:"orderBy,omitempty"`
	OrderDirection string `json:"orderDirection,omitempty"`
	// Limit caps the number of rows; zero or negative means unbounded.
	Limit int `json:"limit,omitempty"`
}

// Ordering is a parsed Sort.
type Ordering struct {
	// By may contain AttrUnknown entries; they are skipped when applied.
	By        []Attribute
	Direction Direction
	Limit     int
}

// Ordering parses s for an entity whose sortable attributes are allowed.
// Tokens outside allowed become AttrUnknown. An unparsable direction is logged
// and ignored, leaving ascending order in effect.
func (s Sort) Ordering(allowed []Attribute, logger *slog.Logger) Ordering {
	if logger == nil {
		logger = slog.Default()
	}
	o := Ordering{Direction: Asc}
	if s.Limit > 0 {
		o.Limit = s.Limit
	}

	for _, a := range ParseOrderBy(s.OrderBy) {
		if a != AttrUnknown && !contains(allowed, a) {
			a = AttrUnknown
		}
		o.By = append(o.By, a)
	}
	if o.Unknown() > 0 {
		logger.Warn("ignoring unrecognized order_by attributes", "orderBy", s.OrderBy)
	}

	if s.OrderDirection != "" {
		if d := ParseDirection(s.OrderDirection); d != DirectionUnrecognized {
			o.Direction = d
		} else {
			logger.Warn("unable to apply search direction to query", "orderDirection", s.OrderDirection)
		}
	}
	return o
}

// Known returns the recognized attributes of o in order.
func (o Ordering) Known() []Attribute {
	out := make([]Attribute, 0, len(o.By))
	for _, a := range o.By {
		if a != AttrUnknown {
			out = append(out, a)
		}
	}
	return out
}

// Unknown counts the unrecognized attributes of o.
func (o Ordering) Unknown() int {
	return len(o.By) - len(o.Known())
}

func contains(list []Attribute, a Attribute) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
