// Package pattern compiles rule path templates into segment lists and
// resolves target URL templates from the captures of a match.
//
// A source template is a "/"-delimited path made of three kinds of segment:
//
//	/users/{id}/posts      literal, positional capture, literal
//	/static/{*path}        literal, trailing catch-all capture
//
// Compile parses a template once, at rule mutation time, so the request path
// only walks pre-built segment slices. Specificity orders patterns of one rule
// set: literal segments weigh 2, positional captures 1, and a catch-all
// subtracts 10.
//
// Target templates use the same placeholder syntax and are resolved by
// substituting capture values verbatim:
//
//	src, _ := pattern.Compile("/api/{*path}")
//	dst, _ := pattern.CompileTemplate("https://backend/{*path}")
//	caps, _ := src.Match(pattern.SplitPath("/api/v1/users/42"))
//	u, _ := dst.Resolve(caps, "")   // https://backend/v1/users/42
package pattern
