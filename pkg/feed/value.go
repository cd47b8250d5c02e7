package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Kind 值类型标签
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// ErrInvalidJSON 无法解析的 JSON
var ErrInvalidJSON = errors.New("invalid json")

// MaxNesting JSON 嵌套层数上限，与 encoding/json 一致
const MaxNesting = 10000

// Value 供应商数据的标签树表示
// Map 保留原始键顺序，保证递归查找结果确定
type Value struct {
	kind   Kind
	b      bool
	num    float64
	str    string
	list   []Value
	keys   []string
	fields map[string]Value
}

// ==================== 构造 ====================

func Null() Value               { return Value{} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Number(n float64) Value    { return Value{kind: KindNumber, num: n} }
func String(s string) Value     { return Value{kind: KindString, str: s} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Map 按 key, value, key, value... 顺序构造映射
func Map(kv ...any) Value {
	v := Value{kind: KindMap, fields: make(map[string]Value, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		child, ok := kv[i+1].(Value)
		if !ok {
			child = fromGo(kv[i+1])
		}
		v.set(key, child)
	}
	return v
}

func fromGo(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case float64:
		return Number(t)
	case string:
		return String(t)
	case Value:
		return t
	default:
		return String(fmt.Sprint(t))
	}
}

func (v *Value) set(key string, child Value) {
	if _, exists := v.fields[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = child
}

// ==================== 访问 ====================

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsMap() bool    { return v.kind == KindMap }
func (v Value) IsList() bool   { return v.kind == KindList }
func (v Value) Keys() []string { return v.keys }
func (v Value) Items() []Value { return v.list }

func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Field 获取映射中的子节点
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	child, ok := v.fields[key]
	return child, ok
}

// Index 获取列表元素
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Value{}, false
	}
	return v.list[i], true
}

func (v Value) BoolValue() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Float 数值或数字字符串转换为 float64
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text 标量的字符串形式，非标量返回空串
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// ==================== JSON ====================

// Parse 解析 JSON 文档为标签树
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return v, nil
}

// MustParse 仅用于测试与常量数据
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case json.Delim:
		if depth >= MaxNesting {
			return Value{}, fmt.Errorf("exceeded max depth %d", MaxNesting)
		}
		switch t {
		case '{':
			v := Value{kind: KindMap, fields: make(map[string]Value)}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, _ := kt.(string)
				child, err := parseValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				v.set(key, child)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return v, nil
		case '[':
			v := Value{kind: KindList, list: []Value{}}
			for dec.More() {
				child, err := parseValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				v.list = append(v.list, child)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return v, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// MarshalJSON 按原始键顺序输出
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		b, err := json.Marshal(v.num)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, _ := json.Marshal(v.str)
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, key := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(key)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.fields[key].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON 使 Value 可直接作为请求体字段
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
