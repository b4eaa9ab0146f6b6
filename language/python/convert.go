package python

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"

	"github.com/go-python/gpython/py"
)

// ToValue converts a JSON-shaped Go value into a Python object. Numbers
// decoded with json.Decoder.UseNumber keep integer precision.
func ToValue(v any) (py.Object, error) {
	switch v := v.(type) {
	case nil:
		return py.None, nil
	case py.Object:
		return v, nil
	case bool:
		return py.Bool(v), nil
	case string:
		return py.String(v), nil
	case int:
		return py.Int(v), nil
	case int64:
		return py.Int(v), nil
	case float64:
		return py.Float(v), nil
	case json.Number:
		return numberValue(v)
	case []any:
		items := make([]py.Object, 0, len(v))
		for i, e := range v {
			o, err := ToValue(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, o)
		}
		return &py.List{Items: items}, nil
	case []string:
		items := make([]py.Object, 0, len(v))
		for _, e := range v {
			items = append(items, py.String(e))
		}
		return &py.List{Items: items}, nil
	case map[string]any:
		dict := make(py.StringDict, len(v))
		for k, e := range v {
			o, err := ToValue(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			dict[k] = o
		}
		return dict, nil
	default:
		// Anything else goes through its JSON form.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", v, err)
		}
		var generic any
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, err
		}
		return ToValue(generic)
	}
}

func numberValue(n json.Number) (py.Object, error) {
	if i, err := n.Int64(); err == nil {
		return py.Int(i), nil
	}
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return (*py.BigInt)(b), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return py.Float(f), nil
}

// FromValue converts a Python object into a JSON-representable Go value.
// Integers too large for int64 become json.Number.
func FromValue(o py.Object) (any, error) {
	switch o := o.(type) {
	case nil, py.NoneType:
		return nil, nil
	case py.Bool:
		return bool(o), nil
	case py.String:
		return string(o), nil
	case py.Int:
		return int64(o), nil
	case *py.BigInt:
		b := (*big.Int)(o)
		if b.IsInt64() {
			return b.Int64(), nil
		}
		return json.Number(b.String()), nil
	case py.Float:
		f := float64(o)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("float %v has no JSON form", f)
		}
		return f, nil
	case *py.List:
		return sequenceValue(o.Items)
	case py.Tuple:
		return sequenceValue(o)
	case py.StringDict:
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(o))
		for _, k := range keys {
			v, err := FromValue(o[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %s has no JSON form", o.Type().Name)
	}
}

func sequenceValue(items []py.Object) (any, error) {
	out := make([]any, 0, len(items))
	for i, item := range items {
		v, err := FromValue(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
