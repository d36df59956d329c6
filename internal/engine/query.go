package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

type ListParams struct {
	Filters  []WhereClause
	Sorts    []OrderClause
	Search   string
	Page     int
	PerPage  int
	Includes []string
}

type WhereClause struct {
	Property *metadata.Property
	Operator string
	Value    any
}

type OrderClause struct {
	Property *metadata.Property
	Dir      string // ASC or DESC
}

type QueryResult struct {
	SQL    string
	Params []any
}

var filterOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true, "in": true, "like": true,
}

// ParseListParams parses Fiber query parameters into ListParams.
func ParseListParams(c *fiber.Ctx, entity *metadata.Entity) (*ListParams, error) {
	params := &ListParams{
		Page:    1,
		PerPage: 25,
	}

	// Parse filters: filter[prop]=val or filter[prop.op]=val
	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1]
		name, op := parseFilterKey(inner)

		prop := entity.GetProperty(name)
		if prop == nil || prop.Type == metadata.TypeFormula {
			return nil, &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown filter property: %s", name),
			}
		}
		if !filterOperators[op] {
			return nil, InvalidPayloadError(fmt.Sprintf("Unknown filter operator: %s", op))
		}

		coerced, err := coerceFilterValue(prop, val, op)
		if err != nil {
			return nil, InvalidPayloadError(fmt.Sprintf("Invalid filter value for %s: %v", name, err))
		}
		params.Filters = append(params.Filters, WhereClause{Property: prop, Operator: op, Value: coerced})
	}

	// Parse sort: sort=-createdAt,name
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			dir := "ASC"
			name := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				name = part[1:]
			}
			prop := entity.GetProperty(name)
			if prop == nil || prop.IsMultiValued() || prop.Type == metadata.TypeFormula {
				return nil, &AppError{
					Code:    "UNKNOWN_FIELD",
					Status:  400,
					Message: fmt.Sprintf("Unknown sort property: %s", name),
				}
			}
			params.Sorts = append(params.Sorts, OrderClause{Property: prop, Dir: dir})
		}
	}

	params.Search = strings.TrimSpace(c.Query("q"))

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			params.Page = v
		}
	}
	if pp := c.Query("perPage", c.Query("per_page")); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			params.PerPage = min(v, 100)
		}
	}

	includes, err := parseIncludes(c.Query("include"))
	if err != nil {
		return nil, err
	}
	params.Includes = includes

	return params, nil
}

// rowColumns is the select list for _rows aliased r.
const rowColumns = "r.id, r.entity_id, r.tenant_id, r.folio, r.workflow_state, r.created_by_user_id, r.created_by_api_key_id, r.created_at, r.updated_at"

// BuildListSQL builds the page query and the matching count query.
func BuildListSQL(entity *metadata.Entity, params *ListParams, rc *metadata.RequestContext, dialect store.Dialect) (QueryResult, QueryResult) {
	pb := dialect.NewParamBuilder()
	where := []string{"r.entity_id = " + pb.Add(entity.ID)}

	if vis := visibilityClause(rc, dialect, pb); vis != "" {
		where = append(where, vis)
	}
	for _, f := range params.Filters {
		where = append(where, buildWhereClause(f, dialect, pb))
	}
	if params.Search != "" {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM _row_values sv WHERE sv.row_id = r.id AND LOWER(sv.text_value) LIKE %s)",
			pb.Add("%"+strings.ToLower(params.Search)+"%")))
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	count := QueryResult{
		SQL:    "SELECT COUNT(*) AS total FROM _rows r" + whereSQL,
		Params: append([]any(nil), pb.Params()...),
	}

	orderParts := make([]string, 0, len(params.Sorts)+1)
	for _, s := range params.Sorts {
		orderParts = append(orderParts, fmt.Sprintf("%s %s", sortExpr(s.Property, dialect, pb), s.Dir))
	}
	orderParts = append(orderParts, "r.folio DESC")

	sql := fmt.Sprintf("SELECT %s FROM _rows r%s ORDER BY %s", rowColumns, whereSQL, strings.Join(orderParts, ", "))
	limit := pb.Add(params.PerPage)
	offset := pb.Add((params.Page - 1) * params.PerPage)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	return QueryResult{SQL: sql, Params: pb.Params()}, count
}

// systemColumn maps default properties to their _rows column.
func systemColumn(name string) string {
	switch name {
	case metadata.PropertyFolio:
		return "r.folio"
	case metadata.PropertyCreatedAt:
		return "r.created_at"
	case metadata.PropertyCreatedBy:
		return "r.created_by_user_id"
	case metadata.PropertyWorkflowState:
		return "r.workflow_state"
	}
	return ""
}

// valueColumn is the _row_values column a scalar property is stored in.
func valueColumn(prop *metadata.Property) string {
	switch prop.Storage() {
	case metadata.StorageNumber:
		return "number_value"
	case metadata.StorageDate:
		return "date_value"
	case metadata.StorageBoolean:
		return "boolean_value"
	default:
		return "text_value"
	}
}

func sortExpr(prop *metadata.Property, dialect store.Dialect, pb *store.ParamBuilder) string {
	if col := systemColumn(prop.Name); prop.IsDefault && col != "" {
		return col
	}
	return fmt.Sprintf("(SELECT %s FROM _row_values sv WHERE sv.row_id = r.id AND sv.property_id = %s)",
		scalarColumn("sv", prop, dialect), pb.Add(prop.ID))
}

// scalarColumn is the aliased value column of a scalar property, cast for
// comparison when the property is numeric.
func scalarColumn(alias string, prop *metadata.Property, dialect store.Dialect) string {
	col := alias + "." + valueColumn(prop)
	if prop.Storage() == metadata.StorageNumber {
		return dialect.NumericExpr(col)
	}
	return col
}

func buildWhereClause(f WhereClause, dialect store.Dialect, pb *store.ParamBuilder) string {
	prop := f.Property
	if col := systemColumn(prop.Name); prop.IsDefault && col != "" {
		return comparison(col, f, dialect, pb)
	}

	if prop.Storage() == metadata.StorageMultiple {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM _row_value_multiples fm WHERE fm.row_id = r.id AND fm.property_id = %s AND %s)",
			pb.Add(prop.ID), comparison("fm.value", f, dialect, pb))
	}

	col := "fv." + valueColumn(prop)
	if f.Operator != "in" && f.Operator != "like" {
		col = scalarColumn("fv", prop, dialect)
	}
	clause := comparison(col, f, dialect, pb)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM _row_values fv WHERE fv.row_id = r.id AND fv.property_id = %s AND %s)",
		pb.Add(prop.ID), clause)
}

func comparison(col string, f WhereClause, dialect store.Dialect, pb *store.ParamBuilder) string {
	if t, ok := f.Value.(time.Time); ok {
		f.Value = dialect.TimeParam(t)
	}
	switch f.Operator {
	case "neq":
		return fmt.Sprintf("%s != %s", col, pb.Add(f.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", col, pb.Add(f.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", col, pb.Add(f.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", col, pb.Add(f.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", col, pb.Add(f.Value))
	case "in":
		values, _ := f.Value.([]string)
		return dialect.InExpr(col, pb, values)
	case "like":
		return fmt.Sprintf("LOWER(%s) LIKE %s", col, pb.Add("%"+strings.ToLower(fmt.Sprint(f.Value))+"%"))
	default:
		return fmt.Sprintf("%s = %s", col, pb.Add(f.Value))
	}
}

// parseFilterKey splits "amount.gte" into ("amount", "gte") or "status" into ("status", "eq").
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}

// coerceFilterValue converts a query string value into the parameter type
// of the column the property is stored in.
func coerceFilterValue(prop *metadata.Property, val, op string) (any, error) {
	if op == "in" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	}
	if op == "like" {
		return val, nil
	}

	switch prop.Storage() {
	case metadata.StorageNumber:
		if prop.Name == metadata.PropertyFolio {
			return strconv.ParseInt(val, 10, 64)
		}
		d, err := parseDecimal(val)
		if err != nil {
			return nil, err
		}
		return d.InexactFloat64(), nil
	case metadata.StorageBoolean:
		return parseBool(val)
	case metadata.StorageDate:
		t, err := parseDate(val)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return val, nil
	}
}
