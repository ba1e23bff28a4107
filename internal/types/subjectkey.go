package types

import "strings"

// ParsedSubjectKey is the normalized (entity, attribute) decomposition of a
// subject_key. Both the current "entity/attribute" form and the legacy
// "person:X|attr:Y" form parse into this shape; the engine never rewrites
// a stored subject_key from one form to the other (see DESIGN.md, Open
// Question 1) — parsing happens fresh on every read.
type ParsedSubjectKey struct {
	Entity    string
	Attribute string
}

// ParseSubjectKey accepts both the current "entity/attribute" form and the
// legacy "person:X|attr:Y" form. It returns ok=false if key matches neither
// shape.
func ParseSubjectKey(key string) (ParsedSubjectKey, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ParsedSubjectKey{}, false
	}
	if strings.Contains(key, "/") && !strings.Contains(key, "|") {
		parts := strings.SplitN(key, "/", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return ParsedSubjectKey{
				Entity:    strings.ToLower(parts[0]),
				Attribute: strings.ToLower(parts[1]),
			}, true
		}
		return ParsedSubjectKey{}, false
	}
	if strings.Contains(key, "|") {
		var entity, attr string
		for _, seg := range strings.Split(key, "|") {
			seg = strings.TrimSpace(seg)
			switch {
			case strings.HasPrefix(seg, "person:"):
				entity = strings.TrimPrefix(seg, "person:")
			case strings.HasPrefix(seg, "attr:"):
				attr = strings.TrimPrefix(seg, "attr:")
			}
		}
		if entity != "" && attr != "" {
			return ParsedSubjectKey{
				Entity:    strings.ToLower(entity),
				Attribute: strings.ToLower(attr),
			}, true
		}
		return ParsedSubjectKey{}, false
	}
	return ParsedSubjectKey{}, false
}

// Canonical renders the key in the current "entity/attribute" form.
func (p ParsedSubjectKey) Canonical() string {
	return p.Entity + "/" + p.Attribute
}

// noiseTokens are dropped from an attribute before fuzzy token-overlap
// comparison: {change, changes, ownership} plus any token
// ending in "-ary".
var noiseTokens = map[string]struct{}{
	"change":    {},
	"changes":   {},
	"ownership": {},
}

// AttributeTokens splits an attribute into lowercase tokens with noise
// tokens removed, for fuzzy subject-key matching.
func AttributeTokens(attribute string) []string {
	fields := strings.FieldsFunc(strings.ToLower(attribute), func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, noise := noiseTokens[f]; noise {
			continue
		}
		if strings.HasSuffix(f, "ary") {
			continue
		}
		out = append(out, f)
	}
	return out
}
