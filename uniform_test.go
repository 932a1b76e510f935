package postfx

import (
	"testing"
)

func TestUniformKindString(t *testing.T) {
	tests := []struct {
		kind UniformKind
		want string
	}{
		{KindInvalid, "invalid"},
		{KindFloat, "float"},
		{KindVec2, "vec2"},
		{KindVec3, "vec3"},
		{KindVec4, "vec4"},
		{KindInt, "int"},
		{KindBool, "bool"},
		{KindTexture, "texture"},
		{UniformKind(42), "UniformKind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.kind, got, tt.want)
		}
		if tt.kind != KindInvalid && tt.kind <= KindTexture {
			if k, ok := ParseKind(tt.want); !ok || k != tt.kind {
				t.Errorf("ParseKind(%q) = %v, %v", tt.want, k, ok)
			}
		}
	}
	if _, ok := ParseKind("invalid"); ok {
		t.Error("ParseKind(invalid) must fail")
	}
}

func TestUniformValues(t *testing.T) {
	tests := []struct {
		name string
		v    UniformValue
		kind UniformKind
		vec  [4]float32
		str  string
	}{
		{"float", Float(0.5), KindFloat, [4]float32{0.5}, "float(0.5)"},
		{"vec2", Vec2(1, 2), KindVec2, [4]float32{1, 2}, "vec2(1, 2)"},
		{"vec3", Vec3(1, 2, 3), KindVec3, [4]float32{1, 2, 3}, "vec3(1, 2, 3)"},
		{"vec4", Vec4(1, 2, 3, 4), KindVec4, [4]float32{1, 2, 3, 4}, "vec4(1, 2, 3, 4)"},
		{"int", Int(-3), KindInt, [4]float32{-3}, "int(-3)"},
		{"true", Bool(true), KindBool, [4]float32{1}, "bool(true)"},
		{"false", Bool(false), KindBool, [4]float32{}, "bool(false)"},
		{"uri", TextureURI("a.png"), KindTexture, [4]float32{}, `texture("a.png")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Kind() != tt.kind || tt.v.IsZero() {
				t.Errorf("Kind() = %v", tt.v.Kind())
			}
			if tt.v.AsVec() != tt.vec {
				t.Errorf("AsVec() = %v, want %v", tt.v.AsVec(), tt.vec)
			}
			if got := tt.v.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
		})
	}

	if Int(7).AsInt() != 7 || !Bool(true).AsBool() || Bool(false).AsBool() {
		t.Error("integer accessors are wrong")
	}
	if TextureURI("x").URI() != "x" || TextureURI("x").TextureHandle() != nil {
		t.Error("texture accessors are wrong")
	}
	if !(UniformValue{}).IsZero() {
		t.Error("zero value must report IsZero")
	}
}
