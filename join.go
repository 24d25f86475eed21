package repomap

import (
	"fmt"

	"github.com/spf13/cast"
)

// joinTarget resolves the related side of a join, given either a
// *Repository or an entity-type identifier looked up through the
// repository's resolver.
func (r *Repository) joinTarget(related any) (*Repository, error) {
	switch v := related.(type) {
	case *Repository:
		return v, nil
	case string:
		if r.resolver == nil {
			return nil, fmt.Errorf("%w: %q (no resolver configured)", ErrUnknownEntityType, v)
		}
		target, err := r.resolver.RepositoryFor(v)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, v)
		}
		return target, nil
	}
	return nil, fmt.Errorf("join target must be *Repository or entity type, got %T", related)
}

// relatedByKey fetches the related records for a join: the distinct
// localField values are collected across entities and the related
// repository is queried for relatedField in that set, merged with any
// extra criteria.
func (r *Repository) relatedByKey(entities []*Entity, related any, relatedField, localField string, extra map[string]any, params Params) (*Repository, []*Entity, error) {
	target, err := r.joinTarget(related)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	keys := make([]any, 0, len(entities))
	for _, e := range entities {
		value, ok := e.GetProperty(localField)
		if !ok || value == nil {
			continue
		}
		k := cast.ToString(value)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, value)
	}
	if len(keys) == 0 {
		return target, nil, nil
	}

	conditions := make(map[string]any, len(extra)+1)
	for name, value := range extra {
		conditions[name] = value
	}
	conditions[relatedField+":in"] = keys

	matches, err := target.Find(conditions, params)
	if err != nil {
		return nil, nil, err
	}
	return target, matches, nil
}

// JoinOne merges a related collection into entities by equality of two
// properties with 1:1 cardinality: each entity's intoProperty is set to
// the related entity whose relatedField equals the entity's localField
// value (last write wins on duplicate keys), or to the empty marker
// when nothing matched. With excludeUnmatched, entities left unmatched
// are dropped from the returned collection.
func (r *Repository) JoinOne(entities []*Entity, related any, relatedField, localField, intoProperty string, extra map[string]any, excludeUnmatched bool) ([]*Entity, error) {
	if len(entities) == 0 {
		return entities, nil
	}

	_, matches, err := r.relatedByKey(entities, related, relatedField, localField, extra, Params{})
	if err != nil {
		return nil, err
	}

	index := make(map[string]*Entity, len(matches))
	for _, m := range matches {
		index[cast.ToString(m.Property(relatedField))] = m
	}

	out := make([]*Entity, 0, len(entities))
	for _, e := range entities {
		match := index[cast.ToString(e.Property(localField))]
		if match == nil {
			if excludeUnmatched {
				continue
			}
			// Explicit empty marker: the property exists but holds nil,
			// distinguishing "join ran, nothing matched" from "never joined".
			e.SetRawProperty(intoProperty, nil)
		} else {
			e.SetRawProperty(intoProperty, match)
		}
		out = append(out, e)
	}
	return out, nil
}

// JoinMany is JoinOne with 1:n cardinality: intoProperty receives the
// list of all related entities sharing the key, preserving the order
// the related store returned them in (which params.OrderBy may shape),
// and the no-match marker is an empty list. With excludeUnmatched,
// entities with an empty list are dropped.
func (r *Repository) JoinMany(entities []*Entity, related any, relatedField, localField, intoProperty string, extra map[string]any, params Params, excludeUnmatched bool) ([]*Entity, error) {
	if len(entities) == 0 {
		return entities, nil
	}

	_, matches, err := r.relatedByKey(entities, related, relatedField, localField, extra, params)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*Entity, len(matches))
	for _, m := range matches {
		key := cast.ToString(m.Property(relatedField))
		groups[key] = append(groups[key], m)
	}

	out := make([]*Entity, 0, len(entities))
	for _, e := range entities {
		group := groups[cast.ToString(e.Property(localField))]
		if len(group) == 0 {
			if excludeUnmatched {
				continue
			}
			e.SetRawProperty(intoProperty, []*Entity{})
		} else {
			e.SetRawProperty(intoProperty, group)
		}
		out = append(out, e)
	}
	return out, nil
}
