package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/feedbackloop/question-engine/internal/models"
)

// CompositeEvaluator decides composite trigger condition trees
type CompositeEvaluator interface {
	EvaluateCondition(ctx context.Context, node *models.ConditionNode, ec models.EvaluationContext) (bool, error)
}

// TreeEvaluator evaluates and/or/not trees whose leaves compare a context
// field against a literal, e.g. {"field":"customer.visit_count","comparator":"gte","value":3}.
type TreeEvaluator struct{}

var _ CompositeEvaluator = TreeEvaluator{}

// EvaluateCondition walks the tree depth first
func (TreeEvaluator) EvaluateCondition(ctx context.Context, node *models.ConditionNode, ec models.EvaluationContext) (bool, error) {
	if node == nil {
		return false, fmt.Errorf("empty condition node")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	switch strings.ToLower(node.Operator) {
	case "and":
		if len(node.Children) == 0 {
			return false, fmt.Errorf("and node without children")
		}
		for i := range node.Children {
			ok, err := TreeEvaluator{}.EvaluateCondition(ctx, &node.Children[i], ec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "or":
		if len(node.Children) == 0 {
			return false, fmt.Errorf("or node without children")
		}
		for i := range node.Children {
			ok, err := TreeEvaluator{}.EvaluateCondition(ctx, &node.Children[i], ec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(node.Children) != 1 {
			return false, fmt.Errorf("not node needs exactly one child, has %d", len(node.Children))
		}
		ok, err := TreeEvaluator{}.EvaluateCondition(ctx, &node.Children[0], ec)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "":
		return evaluateLeaf(node, ec)
	default:
		return false, fmt.Errorf("unknown operator %q", node.Operator)
	}
}

func fieldValue(field string, ec models.EvaluationContext) (interface{}, error) {
	switch field {
	case "customer.visit_count":
		return float64(ec.Customer.VisitCount), nil
	case "customer.average_rating":
		return ec.Customer.AverageRating, nil
	case "customer.session_duration_seconds":
		return ec.Customer.SessionDurationSeconds, nil
	case "customer.device_type":
		return ec.Customer.DeviceType, nil
	case "store.occupancy":
		return ec.Store.Occupancy, nil
	case "store.is_peak_hours":
		return ec.Store.IsPeakHours, nil
	case "store.special_events":
		return ec.Store.SpecialEvents, nil
	case "time.hour":
		return float64(ec.Now.Hour()), nil
	case "time.weekday":
		return float64(ec.Now.Weekday()), nil
	case "business_id":
		return ec.BusinessID, nil
	default:
		return nil, fmt.Errorf("unknown condition field %q", field)
	}
}

func evaluateLeaf(node *models.ConditionNode, ec models.EvaluationContext) (bool, error) {
	actual, err := fieldValue(node.Field, ec)
	if err != nil {
		return false, err
	}
	cmp := strings.ToLower(node.Comparator)

	switch a := actual.(type) {
	case float64:
		if cmp == "in" {
			list, ok := node.Value.([]interface{})
			if !ok {
				return false, fmt.Errorf("field %s: in needs a list value", node.Field)
			}
			for _, item := range list {
				if f, ok := toFloat(item); ok && f == a {
					return true, nil
				}
			}
			return false, nil
		}
		want, ok := toFloat(node.Value)
		if !ok {
			return false, fmt.Errorf("field %s: value %v is not numeric", node.Field, node.Value)
		}
		switch cmp {
		case "eq":
			return a == want, nil
		case "ne":
			return a != want, nil
		case "gt":
			return a > want, nil
		case "gte":
			return a >= want, nil
		case "lt":
			return a < want, nil
		case "lte":
			return a <= want, nil
		}
	case string:
		switch cmp {
		case "eq":
			s, ok := node.Value.(string)
			return ok && strings.EqualFold(a, s), nil
		case "ne":
			s, ok := node.Value.(string)
			return !ok || !strings.EqualFold(a, s), nil
		case "in":
			list, ok := node.Value.([]interface{})
			if !ok {
				return false, fmt.Errorf("field %s: in needs a list value", node.Field)
			}
			for _, item := range list {
				if s, ok := item.(string); ok && strings.EqualFold(a, s) {
					return true, nil
				}
			}
			return false, nil
		}
	case bool:
		want, ok := node.Value.(bool)
		if !ok {
			return false, fmt.Errorf("field %s: value %v is not a boolean", node.Field, node.Value)
		}
		switch cmp {
		case "eq":
			return a == want, nil
		case "ne":
			return a != want, nil
		}
	case []string:
		if cmp == "contains" {
			s, ok := node.Value.(string)
			if !ok {
				return false, fmt.Errorf("field %s: contains needs a string value", node.Field)
			}
			return containsFold(a, s), nil
		}
	}
	return false, fmt.Errorf("comparator %q not supported for field %s", node.Comparator, node.Field)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
