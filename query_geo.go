package reql

// Geospatial commands. The driver serializes them; evaluating them is up to
// the server.

func Point(lon, lat any) Term        { return mk(TermPoint, lon, lat) }
func Line(points ...any) Term        { return mk(TermLine, points...) }
func Polygon(points ...any) Term     { return mk(TermPolygon, points...) }
func GeoJSON(obj any) Term           { return mk(TermGeoJSON, obj) }
func Intersects(a, b any) Term       { return mk(TermIntersects, a, b) }

// Circle takes a center point and radius, with optional num_vertices,
// geo_system, unit and fill given as OptArgs.
func Circle(center, radius any, opts ...Optional) Term {
	return mkOpts(TermCircle, opts, center, radius)
}

func Distance(a, b any, opts ...Optional) Term {
	return mkOpts(TermDistance, opts, a, b)
}

func (t Term) Distance(other any, opts ...Optional) Term {
	return mkOpts(TermDistance, opts, t, other)
}

func (t Term) Intersects(other any) Term   { return mk(TermIntersects, t, other) }
func (t Term) Includes(other any) Term     { return mk(TermIncludes, t, other) }
func (t Term) Fill() Term                  { return mk(TermFill, t) }
func (t Term) ToGeoJSON() Term             { return mk(TermToGeoJSON, t) }
func (t Term) PolygonSub(other any) Term   { return mk(TermPolygonSub, t, other) }

// GetIntersecting needs OptArgs{"index": ...} naming a geospatial index.
func (t Term) GetIntersecting(geo any, opts ...Optional) Term {
	return mkOpts(TermGetIntersecting, opts, t, geo)
}

func (t Term) GetNearest(point any, opts ...Optional) Term {
	return mkOpts(TermGetNearest, opts, t, point)
}
