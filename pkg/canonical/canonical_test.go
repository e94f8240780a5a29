package canonical

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	v, err := Decode([]byte(s))
	require.NoError(t, err)
	return v
}

func TestStableHash_KnownAnswer(t *testing.T) {
	a := map[string]any{"courseName": "Web Development", "studentName": "John Doe"}
	b := mustDecode(t, `{"studentName":"John Doe","courseName":"Web Development"}`)

	ha, err := StableHash(a)
	require.NoError(t, err)
	hb, err := StableHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Equal(t, "8c642c59a79e8115aaee483ea89ab515adc6745a0bff5f53147b8ebce520acb0", ha)
	assert.True(t, ValidDigest(ha))
}

func TestStableHash_SampleCertificate(t *testing.T) {
	record := mustDecode(t, `{
		"studentName": "John Doe",
		"certificateId": "CERT12345",
		"course": "Web Development",
		"issueDate": "2025-10-02",
		"institution": "Tech University"
	}`)

	digest, err := StableHash(record)
	require.NoError(t, err)
	assert.Equal(t, "ce6215a56a99f1180128e9c1d6d790ac62f4a8fec3f7b490eda9d6153d1dd0f3", digest)
}

func TestStableHash_OrderIndependentAtEveryLevel(t *testing.T) {
	a := mustDecode(t, `{"z":{"y":{"b":2,"a":1},"x":"v"},"studentName":"Ann","n":1.5}`)
	b := mustDecode(t, `{"n":1.5,"studentName":"Ann","z":{"x":"v","y":{"a":1,"b":2}}}`)

	for _, mode := range []ArrayMode{ArraysVerbatim, ArraysRecursive, ArraysIndexed} {
		t.Run(mode.String(), func(t *testing.T) {
			h := New(WithArrayMode(mode))
			ha, err := h.Hash(a)
			require.NoError(t, err)
			hb, err := h.Hash(b)
			require.NoError(t, err)
			assert.Equal(t, ha, hb)
		})
	}
}

func TestStableHash_DeterministicAndValueSensitive(t *testing.T) {
	record := map[string]any{"studentName": "John Doe", "courseName": "Web Development"}
	first, err := StableHash(record)
	require.NoError(t, err)
	second, err := StableHash(record)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	altered := map[string]any{"studentName": "John Doe", "courseName": "Web DevelopmenT"}
	third, err := StableHash(altered)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestMarshal_Serialization(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{
			name:  "nested keys sorted",
			input: mustDecode(t, `{"b":{"d":1,"c":2},"a":true}`),
			want:  `{"a":true,"b":{"c":2,"d":1}}`,
		},
		{
			name:  "no html escaping",
			input: map[string]any{"k": "<a&b>"},
			want:  `{"k":"<a&b>"}`,
		},
		{
			name:  "line separators stay raw",
			input: map[string]any{"k": "a\u2028b"},
			want:  "{\"k\":\"a\u2028b\"}",
		},
		{
			name:  "control characters escaped",
			input: map[string]any{"k": "tab\tnl\nquote\"back\\bell\x07"},
			want:  `{"k":"tab\tnl\nquote\"back\\bell\u0007"}`,
		},
		{
			name:  "numbers use ecmascript form",
			input: mustDecode(t, `[1.0, 100, 1e21, 0.0000001, -0, 0.5]`),
			want:  `[1,100,1e+21,1e-7,0,0.5]`,
		},
		{
			name:  "non-finite numbers become null",
			input: []any{math.NaN(), math.Inf(1)},
			want:  `[null,null]`,
		},
		{
			name:  "integer keys iterate first",
			input: mustDecode(t, `{"b":1,"10":2,"9":3,"a":4,"01":5}`),
			want:  `{"9":3,"10":2,"01":5,"a":4,"b":1}`,
		},
		{
			name:  "utf-16 key order",
			input: map[string]any{"｡": 1, "\U0001F600": 2},
			want:  "{\"\U0001F600\":2,\"｡\":1}",
		},
		{
			name:  "undefined dropped from objects",
			input: Object{{Key: "a", Value: Undefined}, {Key: "b", Value: 1}},
			want:  `{"b":1}`,
		},
		{
			name:  "undefined is null in arrays",
			input: []any{Undefined, "x"},
			want:  `[null,"x"]`,
		},
		{
			name:  "scalar passes through",
			input: "plain",
			want:  `"plain"`,
		},
		{
			name:  "null passes through",
			input: nil,
			want:  `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestArrayModes(t *testing.T) {
	input := `{"tags":[{"b":1,"a":2},"x"],"name":"n"}`

	t.Run("verbatim keeps array elements untouched", func(t *testing.T) {
		got, err := New().Marshal(mustDecode(t, input))
		require.NoError(t, err)
		assert.Equal(t, `{"name":"n","tags":[{"b":1,"a":2},"x"]}`, string(got))
	})

	t.Run("verbatim digest depends on key order inside arrays", func(t *testing.T) {
		a, err := StableHash(mustDecode(t, `{"tags":[{"b":1,"a":2}]}`))
		require.NoError(t, err)
		b, err := StableHash(mustDecode(t, `{"tags":[{"a":2,"b":1}]}`))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("recursive canonicalizes elements and emits jcs", func(t *testing.T) {
		h := New(WithArrayMode(ArraysRecursive))
		got, err := h.Marshal(mustDecode(t, input))
		require.NoError(t, err)
		assert.Equal(t, `{"name":"n","tags":[{"a":2,"b":1},"x"]}`, string(got))

		numeric, err := h.Marshal(mustDecode(t, `{"9":1,"10":2}`))
		require.NoError(t, err)
		assert.Equal(t, `{"10":2,"9":1}`, string(numeric))
	})

	t.Run("recursive still differs on element order", func(t *testing.T) {
		h := New(WithArrayMode(ArraysRecursive))
		a, err := h.Hash(mustDecode(t, `{"tags":["x","y"]}`))
		require.NoError(t, err)
		b, err := h.Hash(mustDecode(t, `{"tags":["y","x"]}`))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("indexed turns arrays into index maps", func(t *testing.T) {
		h := New(WithArrayMode(ArraysIndexed))
		got, err := h.Marshal(mustDecode(t, input))
		require.NoError(t, err)
		assert.Equal(t, `{"name":"n","tags":{"0":{"a":2,"b":1},"1":"x"}}`, string(got))

		long := make([]any, 11)
		for i := range long {
			long[i] = i
		}
		got, err = h.Marshal(long)
		require.NoError(t, err)
		assert.Equal(t, `{"0":0,"1":1,"2":2,"3":3,"4":4,"5":5,"6":6,"7":7,"8":8,"9":9,"10":10}`, string(got))
	})
}

func TestCanonicalize(t *testing.T) {
	t.Run("scalars unchanged", func(t *testing.T) {
		assert.Equal(t, "s", Canonicalize("s"))
		assert.Equal(t, 2.5, Canonicalize(2.5))
		assert.Equal(t, true, Canonicalize(true))
		assert.Nil(t, Canonicalize(nil))
	})

	t.Run("mapping becomes sorted object", func(t *testing.T) {
		got := Canonicalize(map[string]any{"b": 1.0, "a": map[string]any{"d": 1.0, "c": 2.0}})
		obj, ok := got.(Object)
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, obj.Keys())
		inner, ok := obj[0].Value.(Object)
		require.True(t, ok)
		assert.Equal(t, []string{"c", "d"}, inner.Keys())
	})

	t.Run("verbatim array returned as is", func(t *testing.T) {
		arr := []any{map[string]any{"b": 1.0, "a": 2.0}}
		got := Canonicalize(arr)
		out, ok := got.([]any)
		require.True(t, ok)
		_, isMap := out[0].(map[string]any)
		assert.True(t, isMap)
	})
}

func TestStableHash_GoValues(t *testing.T) {
	type record struct {
		StudentName string `json:"studentName"`
		CourseName  string `json:"courseName"`
	}

	fromStruct, err := StableHash(record{StudentName: "John Doe", CourseName: "Web Development"})
	require.NoError(t, err)
	assert.Equal(t, "8c642c59a79e8115aaee483ea89ab515adc6745a0bff5f53147b8ebce520acb0", fromStruct)

	ints, err := StableHash(map[string]any{"n": 3})
	require.NoError(t, err)
	floats, err := StableHash(map[string]any{"n": 3.0})
	require.NoError(t, err)
	assert.Equal(t, ints, floats)

	_, err = StableHash(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestParseArrayMode(t *testing.T) {
	for _, mode := range []ArrayMode{ArraysVerbatim, ArraysRecursive, ArraysIndexed} {
		parsed, err := ParseArrayMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}

	parsed, err := ParseArrayMode("")
	require.NoError(t, err)
	assert.Equal(t, ArraysVerbatim, parsed)

	_, err = ParseArrayMode("sorted")
	require.Error(t, err)
}

func TestValidDigest(t *testing.T) {
	assert.True(t, ValidDigest(HashBytes([]byte("x"))))
	assert.False(t, ValidDigest("deadbeef"))
	assert.False(t, ValidDigest("8C642C59A79E8115AAEE483EA89AB515ADC6745A0BFF5F53147B8EBCE520ACB0"))
}
