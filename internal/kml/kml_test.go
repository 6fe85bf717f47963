package kml

import "testing"

const twoPoints = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document addr="alice@example.com">
<Placemark><Timestamp><when>2026-06-10T01:02:03Z</when></Timestamp>
<Point><coordinates accuracy="24">9.456,51.123</coordinates></Point></Placemark>
<Placemark><Timestamp><when>2026-06-10T01:05:00Z</when></Timestamp>
<Point><coordinates>9.460,51.130</coordinates></Point></Placemark>
</Document>
</kml>
`

func TestParseTwoPlacemarks(t *testing.T) {
	doc, err := Parse([]byte(twoPoints))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Addr != "alice@example.com" {
		t.Errorf("Addr = %q, want alice@example.com", doc.Addr)
	}
	if len(doc.Points) != 2 {
		t.Fatalf("Points = %d, want 2", len(doc.Points))
	}
	p := doc.Points[0]
	if p.Lat != 51.123 || p.Lng != 9.456 || p.Accuracy != 24 {
		t.Errorf("first point = %+v, want lat=51.123 lng=9.456 accuracy=24", p)
	}
	if doc.Points[1].Accuracy != 0 {
		t.Errorf("second point Accuracy = %v, want 0 (no accuracy attr)", doc.Points[1].Accuracy)
	}
}

func TestParseSkipsUnparseablePlacemark(t *testing.T) {
	const bad = `<kml><Document>
<Placemark><Timestamp><when>not-a-date</when></Timestamp><Point><coordinates>1,2</coordinates></Point></Placemark>
<Placemark><Timestamp><when>2026-06-10T01:05:00Z</when></Timestamp><Point><coordinates>9.460,51.130</coordinates></Point></Placemark>
</Document></kml>`
	doc, err := Parse([]byte(bad))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Points) != 1 {
		t.Fatalf("Points = %d, want 1 (bad timestamp skipped)", len(doc.Points))
	}
}
