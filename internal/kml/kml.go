// Package kml parses the location-attachment payloads this module's
// specification names under C8's "KML locations" handler:
// message.kml (a single point riding along with an ordinary message)
// and location.kml (a contact's position-streaming history, sent as
// its own attachment on a later envelope).
package kml

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// Point is one timestamped coordinate.
type Point struct {
	Timestamp time.Time
	Lat       float64
	Lng       float64
	Accuracy  float64 // 0 when the sender didn't report one
}

// Document is a parsed KML payload: zero or more points, plus the
// addr the Document element claims authorship for (location.kml only;
// message.kml leaves it empty).
type Document struct {
	Addr   string
	Points []Point
}

type kmlDocument struct {
	XMLName xml.Name `xml:"kml"`
	Doc     struct {
		Addr      string `xml:"addr,attr"`
		Placemark []struct {
			Timestamp struct {
				When string `xml:"when"`
			} `xml:"Timestamp"`
			Point struct {
				Coordinates struct {
					Accuracy string `xml:"accuracy,attr"`
					Value    string `xml:",chardata"`
				} `xml:"coordinates"`
			} `xml:"Point"`
		} `xml:"Placemark"`
	} `xml:"Document"`
}

// Parse decodes raw KML bytes into a Document. Placemarks with an
// unparseable timestamp or coordinate pair are skipped rather than
// failing the whole document — one bad point shouldn't discard the
// rest of a streaming history.
func Parse(raw []byte) (Document, error) {
	var doc kmlDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	out := Document{Addr: strings.ToLower(strings.TrimSpace(doc.Doc.Addr))}
	for _, pm := range doc.Doc.Placemark {
		when, err := time.Parse(time.RFC3339, strings.TrimSpace(pm.Timestamp.When))
		if err != nil {
			continue
		}
		lat, lng, ok := parseCoordinates(pm.Point.Coordinates.Value)
		if !ok {
			continue
		}
		var accuracy float64
		if a := strings.TrimSpace(pm.Point.Coordinates.Accuracy); a != "" {
			accuracy, _ = strconv.ParseFloat(a, 64)
		}
		out.Points = append(out.Points, Point{Timestamp: when, Lat: lat, Lng: lng, Accuracy: accuracy})
	}
	return out, nil
}

// parseCoordinates reads KML's "lon,lat[,alt]" coordinate form.
func parseCoordinates(v string) (lat, lng float64, ok bool) {
	parts := strings.Split(strings.TrimSpace(v), ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}
