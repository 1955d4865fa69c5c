// Package export renders the pins visible to a show as a packages document,
// in XML or YAML.
package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/packrat/pinserver/pkg/errcode"
	"github.com/packrat/pinserver/pkg/store"
)

// Format is a document encoding.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts xml, yaml or yml in any case. Empty selects XML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xml":
		return FormatXML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", errcode.New(errcode.InvalidArgument, "unsupported export format %q", s)
}

// Document is the root of a packages export.
type Document struct {
	XMLName  xml.Name  `xml:"packages" yaml:"-"`
	Show     string    `xml:"show,attr,omitempty" yaml:"show,omitempty"`
	Packages []Package `xml:"package" yaml:"packages"`
}

// Package groups the pins of one package, least specific first.
type Package struct {
	Name string `xml:"name,attr" yaml:"name"`
	Pins []Pin  `xml:"pin" yaml:"pins"`
}

// Pin is one version pin.
type Pin struct {
	Version  string   `xml:"version,attr" yaml:"version"`
	Level    string   `xml:"level,attr" yaml:"level"`
	Role     string   `xml:"role,attr" yaml:"role"`
	Platform string   `xml:"platform,attr" yaml:"platform"`
	Site     string   `xml:"site,attr" yaml:"site"`
	Withs    []string `xml:"with" yaml:"withs,omitempty"`
}

// Build groups rows by package, keeping their order. Rows are expected
// grouped by package already, as the gateway returns them for a show.
func Build(show string, rows []store.VersionPinRow) Document {
	doc := Document{Show: show, Packages: []Package{}}
	for _, r := range rows {
		n := len(doc.Packages)
		if n == 0 || doc.Packages[n-1].Name != r.Package {
			doc.Packages = append(doc.Packages, Package{Name: r.Package})
			n++
		}
		doc.Packages[n-1].Pins = append(doc.Packages[n-1].Pins, Pin{
			Version:  r.Version,
			Level:    r.Coords.Level,
			Role:     r.Coords.Role,
			Platform: r.Coords.Platform,
			Site:     r.Coords.Site,
			Withs:    r.Withs,
		})
	}
	return doc
}

// Encode writes doc to w in the given format.
func Encode(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatXML:
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return fmt.Errorf("write xml header: %w", err)
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode xml: %w", err)
		}
		_, err := io.WriteString(w, "\n")
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
	return errcode.New(errcode.InvalidArgument, "unsupported export format %q", format)
}

// Render builds and encodes the document for rows.
func Render(show string, rows []store.VersionPinRow, format Format) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, Build(show, rows), format); err != nil {
		return "", err
	}
	return buf.String(), nil
}
