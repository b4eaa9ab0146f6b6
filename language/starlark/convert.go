package starlark

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// ToValue converts a JSON-shaped Go value into a Starlark value. Numbers
// decoded with json.Decoder.UseNumber keep integer precision.
func ToValue(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case float64:
		return starlark.Float(v), nil
	case json.Number:
		return numberValue(v)
	case []any:
		elems := make([]starlark.Value, 0, len(v))
		for i, e := range v {
			sv, err := ToValue(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, 0, len(v))
		for _, e := range v {
			elems = append(elems, starlark.String(e))
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(v))
		for _, k := range keys {
			sv, err := ToValue(v[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
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

func numberValue(n json.Number) (starlark.Value, error) {
	if i, err := n.Int64(); err == nil {
		return starlark.MakeInt64(i), nil
	}
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return starlark.MakeBigInt(b), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return starlark.Float(f), nil
}

// FromValue converts a Starlark value into a JSON-representable Go value.
// Integers too large for int64 become json.Number.
func FromValue(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return json.Number(v.String()), nil
	case starlark.Float:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("float %v has no JSON form", f)
		}
		return f, nil
	case *starlark.List:
		return iterableValue(v, v.Len())
	case starlark.Tuple:
		return iterableValue(v, v.Len())
	case *starlark.Set:
		return iterableValue(v, v.Len())
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0].String())
			}
			val, err := FromValue(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", string(k), err)
			}
			out[string(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %s has no JSON form", v.Type())
	}
}

func iterableValue(v starlark.Iterable, n int) (any, error) {
	out := make([]any, 0, n)
	iter := v.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		e, err := FromValue(elem)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", len(out), err)
		}
		out = append(out, e)
	}
	return out, nil
}
