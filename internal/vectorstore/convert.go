package vectorstore

import (
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// datetimeKeys are payload keys the store round-trips as Go time.Time
// rather than generic strings.
var datetimeKeys = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
}

func cloneAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// buildFilter constructs the tenant + scope + tags + deleted-state filter
// every repository query applies. Tenant fields are always present and are
// never influenced by caller-supplied SearchOptions.
func buildFilter(tenant Tenant, scope string, tags []string, includeDeleted bool) *qdrant.Filter {
	must := []*qdrant.Condition{
		keywordCondition("org_id", tenant.OrgID),
		keywordCondition("agent_id", tenant.AgentID),
	}
	if tenant.UserID != "" {
		must = append(must, keywordCondition("user_id", tenant.UserID))
	}
	if scope != "" {
		must = append(must, keywordCondition("scope", scope))
	}
	if len(tags) > 0 {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "tags",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: tags}},
					},
				},
			},
		})
	}
	if !includeDeleted {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "deleted",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: false}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// toQdrantPayload converts a generic payload map into Qdrant's typed value
// wire format. created_at/updated_at are formatted as RFC3339Nano so the
// store's datetime index can range-query them.
func toQdrantPayload(payload map[string]any) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		if _, isDatetime := datetimeKeys[k]; isDatetime {
			if t, ok := v.(time.Time); ok {
				out[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: t.UTC().Format(time.RFC3339Nano)}}
				continue
			}
		}
		switch val := v.(type) {
		case string:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case bool:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case int:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case []string:
			values := make([]*qdrant.Value, len(val))
			for i, s := range val {
				values[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
			}
			out[k] = &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
		}
	}
	return out
}

// fromQdrantPayload reverses toQdrantPayload, parsing created_at/updated_at
// back into time.Time.
func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		switch kind := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			if _, isDatetime := datetimeKeys[k]; isDatetime {
				if t, err := time.Parse(time.RFC3339Nano, kind.StringValue); err == nil {
					out[k] = t
					continue
				}
			}
			out[k] = kind.StringValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_ListValue:
			strs := make([]string, 0, len(kind.ListValue.Values))
			for _, item := range kind.ListValue.Values {
				if s, ok := item.Kind.(*qdrant.Value_StringValue); ok {
					strs = append(strs, s.StringValue)
				}
			}
			out[k] = strs
		}
	}
	return out
}

func pointFromQdrant(rp *qdrant.RetrievedPoint) Point {
	return Point{
		ID:      rp.GetId().GetUuid(),
		Vector:  rp.GetVectors().GetVector().GetData(),
		Payload: fromQdrantPayload(rp.GetPayload()),
	}
}

func scoredPointsFromQdrant(results []*qdrant.ScoredPoint) []ScoredPoint {
	out := make([]ScoredPoint, len(results))
	for i, sp := range results {
		out[i] = ScoredPoint{
			Point: Point{
				ID:      sp.GetId().GetUuid(),
				Vector:  sp.GetVectors().GetVector().GetData(),
				Payload: fromQdrantPayload(sp.GetPayload()),
			},
			Score: float64(sp.GetScore()),
		}
	}
	return out
}

// rerankFormulaQuery builds the $score * gauss_decay(created_at) blend used
// by SearchWithReranker.
//
// TODO: verify Formula/Expression field names once qdrant-go-client
// v1.16.2 source is available locally; the formula-query surface was added
// recently and this is built from the documented wire schema rather than
// a checked-out copy of the client.
func rerankFormulaQuery(scaleSeconds float64) *qdrant.Query {
	return &qdrant.Query{
		Variant: &qdrant.Query_Formula{
			Formula: &qdrant.Formula{
				Expression: &qdrant.Expression{
					Variant: &qdrant.Expression_Mult{
						Mult: &qdrant.MultExpression{
							Mult: []*qdrant.Expression{
								{Variant: &qdrant.Expression_Variable{Variable: "$score"}},
								{
									Variant: &qdrant.Expression_GaussDecay{
										GaussDecay: &qdrant.DecayParamsExpression{
											X:     &qdrant.Expression{Variant: &qdrant.Expression_Datetime{Datetime: "created_at"}},
											Scale: qdrant.PtrOf(scaleSeconds),
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}
