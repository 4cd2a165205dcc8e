package query

import (
	"sort"
	"strings"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// operatorKeys maps operator-document keys to operators.
var operatorKeys = map[string]Op{
	"$eq":  OpEq,
	"$ne":  OpNe,
	"$gt":  OpGt,
	"$gte": OpGte,
	"$lt":  OpLt,
	"$lte": OpLte,
	"$in":  OpIn,
}

// keywordSuffixes maps keyword-argument suffixes to operators.
var keywordSuffixes = map[string]Op{
	"eq":  OpEq,
	"ne":  OpNe,
	"gt":  OpGt,
	"gte": OpGte,
	"lt":  OpLt,
	"lte": OpLte,
	"in":  OpIn,
}

var opRank = map[Op]int{OpEq: 0, OpNe: 1, OpGt: 2, OpGte: 3, OpLt: 4, OpLte: 5, OpIn: 6}

// FromOperatorMap parses an operator document:
//
//	{"rating": {"$gt": 3}, "name": "Alice"}
//	{"$or": [{"rating": 5}, {"name": "Bob"}]}
//
// A bare value means equality. Top-level "$and" and "$or" take a list of
// operator documents. An empty or nil map yields a nil predicate.
func FromOperatorMap(m map[string]any) (Predicate, error) {
	var cmps []Cmp
	var logical []Predicate

	for _, key := range sortedKeys(m) {
		value := m[key]
		switch {
		case key == "$and" || key == "$or":
			p, err := parseLogical(key, value)
			if err != nil {
				return nil, err
			}
			logical = append(logical, p)
		case strings.HasPrefix(key, "$"):
			return nil, dberr.InvalidQuery("", "unknown top-level operator %q", key)
		case key == "":
			return nil, dberr.InvalidQuery("", "empty field name")
		default:
			fieldCmps, err := parseFieldDocument(key, value)
			if err != nil {
				return nil, err
			}
			cmps = append(cmps, fieldCmps...)
		}
	}

	return canonical(cmps, logical), nil
}

// FromKeywords parses keyword filters with double-underscore suffixes:
//
//	{"rating__gt": 3, "author_id": 7}
//
// A key without a recognized suffix means equality on the whole key.
func FromKeywords(kw map[string]any) (Predicate, error) {
	var cmps []Cmp
	for _, key := range sortedKeys(kw) {
		field, op := splitKeyword(key)
		if field == "" {
			return nil, dberr.InvalidQuery(key, "empty field name")
		}
		c, err := newCmp(field, op, kw[key])
		if err != nil {
			return nil, err
		}
		cmps = append(cmps, c)
	}
	return canonical(cmps, nil), nil
}

func splitKeyword(key string) (string, Op) {
	i := strings.LastIndex(key, "__")
	if i < 0 {
		return key, OpEq
	}
	if op, ok := keywordSuffixes[key[i+2:]]; ok {
		return key[:i], op
	}
	return key, OpEq
}

func parseLogical(key string, value any) (Predicate, error) {
	items, err := toSet(value)
	if err != nil {
		return nil, dberr.InvalidQuery("", "%s expects a list of documents", key)
	}
	preds := make([]Predicate, 0, len(items))
	for _, item := range items {
		doc, ok := item.(map[string]any)
		if !ok {
			return nil, dberr.InvalidQuery("", "%s expects a list of documents, got %T element", key, item)
		}
		p, err := FromOperatorMap(doc)
		if err != nil {
			return nil, err
		}
		if p == nil {
			p = And{}
		}
		preds = append(preds, p)
	}
	if key == "$and" {
		if len(preds) == 0 {
			return And{}, nil
		}
		return AllOf(preds...), nil
	}
	if len(preds) == 0 {
		return Or{}, nil
	}
	return AnyOf(preds...), nil
}

// parseFieldDocument handles the value side of one field entry. A map whose
// keys all start with "$" is an operator document; anything else is a
// literal compared for equality.
func parseFieldDocument(field string, value any) ([]Cmp, error) {
	doc, ok := value.(map[string]any)
	if !ok {
		c, err := newCmp(field, OpEq, value)
		if err != nil {
			return nil, err
		}
		return []Cmp{c}, nil
	}
	if len(doc) == 0 {
		return nil, dberr.InvalidQuery(field, "empty operator document")
	}

	var out []Cmp
	for _, k := range sortedKeys(doc) {
		if !strings.HasPrefix(k, "$") {
			return nil, dberr.InvalidQuery(field, "operator document mixes operators and field %q", k)
		}
		op, ok := operatorKeys[k]
		if !ok {
			return nil, dberr.InvalidQuery(field, "unknown operator %q", k)
		}
		c, err := newCmp(field, op, doc[k])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func newCmp(field string, op Op, value any) (Cmp, error) {
	if op != OpIn {
		return Cmp{Field: field, Op: op, Value: value}, nil
	}
	set, err := toSet(value)
	if err != nil {
		return Cmp{}, dberr.InvalidQuery(field, "in: %v", err)
	}
	return Cmp{Field: field, Op: OpIn, Value: set}, nil
}

// canonical orders comparisons by field then operator and conjoins them
// with any logical nodes.
func canonical(cmps []Cmp, logical []Predicate) Predicate {
	sort.SliceStable(cmps, func(i, j int) bool {
		if cmps[i].Field != cmps[j].Field {
			return cmps[i].Field < cmps[j].Field
		}
		return opRank[cmps[i].Op] < opRank[cmps[j].Op]
	})
	preds := make([]Predicate, 0, len(cmps)+len(logical))
	for _, c := range cmps {
		preds = append(preds, c)
	}
	preds = append(preds, logical...)
	return AllOf(preds...)
}

// ParseSort parses sort specifications. Each spec may hold several keys
// separated by spaces or commas; a leading "-" sorts descending and a
// leading "+" or no prefix sorts ascending. Repeated fields keep their
// first position.
func ParseSort(specs ...string) ([]SortKey, error) {
	var keys []SortKey
	seen := map[string]bool{}
	for _, spec := range specs {
		for _, tok := range strings.FieldsFunc(spec, isListSeparator) {
			key := SortKey{Field: tok}
			switch tok[0] {
			case '-':
				key = SortKey{Field: tok[1:], Desc: true}
			case '+':
				key = SortKey{Field: tok[1:]}
			}
			if key.Field == "" {
				return nil, dberr.InvalidQuery("", "sort key %q has no field", tok)
			}
			if seen[key.Field] {
				continue
			}
			seen[key.Field] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// ParsePopulate merges dotted population paths ("author_id",
// "author_id.company") into existing requests. Duplicate paths collapse into
// one request.
func ParsePopulate(existing []Population, paths ...string) ([]Population, error) {
	out := clonePopulations(existing)
	for _, spec := range paths {
		for _, path := range strings.FieldsFunc(spec, isListSeparator) {
			parts := strings.Split(path, ".")
			for _, p := range parts {
				if p == "" {
					return nil, dberr.InvalidQuery(path, "malformed populate path")
				}
			}
			out = mergePath(out, parts)
		}
	}
	return out, nil
}

func mergePath(ps []Population, parts []string) []Population {
	for i := range ps {
		if ps[i].Field == parts[0] {
			if len(parts) > 1 {
				ps[i].Nested = mergePath(ps[i].Nested, parts[1:])
			}
			return ps
		}
	}
	p := Population{Field: parts[0]}
	if len(parts) > 1 {
		p.Nested = mergePath(nil, parts[1:])
	}
	return append(ps, p)
}

func isListSeparator(r rune) bool {
	return r == ',' || r == ' ' || r == '\t' || r == '\n'
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
