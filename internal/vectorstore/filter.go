package vectorstore

import "github.com/qdrant/go-client/qdrant"

// Filter is a flat equality filter over payload keys. All conditions
// are ANDed together. Values may be string, int, int64, bool, or
// []string (matched as "any of"); a condition whose value has any other
// type, float64 included, is left out of the Qdrant filter.
//
// Scoping uses a single project_name field rather than a multi-level
// tenant_id/team_id/project_id hierarchy: one flat namespace per
// project, not nested ownership.
type Filter map[string]any

// ProjectFilter returns a Filter scoped to a single project. An empty
// name scopes to global memories (project_name absent), matched via
// MatchGlobal rather than this helper.
func ProjectFilter(projectName string) Filter {
	return Filter{"project_name": projectName}
}

// buildQdrantFilter converts a Filter into the wire representation.
// Returns nil if f is empty, matching Qdrant's "no filter" semantics.
func buildQdrantFilter(f Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(f))
	for key, value := range f {
		cond := fieldCondition(key, value)
		if cond != nil {
			conditions = append(conditions, cond)
		}
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func fieldCondition(key string, value any) *qdrant.Condition {
	switch v := value.(type) {
	case string:
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}},
				},
			},
		}
	case int:
		return intCondition(key, int64(v))
	case int64:
		return intCondition(key, v)
	case bool:
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}},
				},
			},
		}
	case []string:
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: v}},
					},
				},
			},
		}
	default:
		return nil
	}
}

func intCondition(key string, v int64) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}},
			},
		},
	}
}
