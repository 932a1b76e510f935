package postfx

import (
	"fmt"

	"github.com/gogpu/postfx/backend"
)

// UniformKind is the declared type of a uniform.
type UniformKind uint8

const (
	// KindInvalid is the kind of the zero UniformValue.
	KindInvalid UniformKind = iota
	KindFloat
	KindVec2
	KindVec3
	KindVec4
	KindInt
	KindBool
	KindTexture
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindFloat:   "float",
	KindVec2:    "vec2",
	KindVec3:    "vec3",
	KindVec4:    "vec4",
	KindInt:     "int",
	KindBool:    "bool",
	KindTexture: "texture",
}

func (k UniformKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("UniformKind(%d)", k)
}

// ParseKind returns the kind with the given name.
func ParseKind(s string) (UniformKind, bool) {
	for k, name := range kindNames {
		if name == s && k != int(KindInvalid) {
			return UniformKind(k), true
		}
	}
	return KindInvalid, false
}

// UniformValue is a tagged union of the values a stage uniform can hold.
//
// A texture value is either an eager backend texture or a URI that is
// loaded asynchronously the first time the stage runs.
type UniformValue struct {
	kind UniformKind
	vec  [4]float32
	i    int
	tex  backend.Texture
	uri  string
}

// Float returns a float uniform value.
func Float(v float32) UniformValue {
	return UniformValue{kind: KindFloat, vec: [4]float32{v}}
}

// Vec2 returns a two-component vector value.
func Vec2(x, y float32) UniformValue {
	return UniformValue{kind: KindVec2, vec: [4]float32{x, y}}
}

// Vec3 returns a three-component vector value.
func Vec3(x, y, z float32) UniformValue {
	return UniformValue{kind: KindVec3, vec: [4]float32{x, y, z}}
}

// Vec4 returns a four-component vector value.
func Vec4(x, y, z, w float32) UniformValue {
	return UniformValue{kind: KindVec4, vec: [4]float32{x, y, z, w}}
}

// Int returns an integer value.
func Int(v int) UniformValue {
	return UniformValue{kind: KindInt, i: v, vec: [4]float32{float32(v)}}
}

// Bool returns a boolean value. Programs see it as 0 or 1.
func Bool(v bool) UniformValue {
	u := UniformValue{kind: KindBool}
	if v {
		u.i = 1
		u.vec[0] = 1
	}
	return u
}

// Texture returns a texture value bound to an existing backend texture.
// The caller keeps ownership of tex.
func Texture(tex backend.Texture) UniformValue {
	return UniformValue{kind: KindTexture, tex: tex}
}

// TextureURI returns a texture value that is loaded from uri.
func TextureURI(uri string) UniformValue {
	return UniformValue{kind: KindTexture, uri: uri}
}

// Kind returns the value's kind.
func (v UniformValue) Kind() UniformKind { return v.kind }

// IsZero reports whether v is the zero value.
func (v UniformValue) IsZero() bool { return v.kind == KindInvalid }

// AsFloat returns the first component of a numeric value.
func (v UniformValue) AsFloat() float32 { return v.vec[0] }

// AsVec returns the value widened to four components.
func (v UniformValue) AsVec() [4]float32 { return v.vec }

// AsInt returns an Int or Bool value as an integer.
func (v UniformValue) AsInt() int { return v.i }

// AsBool returns a Bool value.
func (v UniformValue) AsBool() bool { return v.i != 0 }

// TextureHandle returns the eager texture of a texture value, or nil.
func (v UniformValue) TextureHandle() backend.Texture { return v.tex }

// URI returns the source URI of a texture value, or "".
func (v UniformValue) URI() string { return v.uri }

func (v UniformValue) String() string {
	switch v.kind {
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.vec[0])
	case KindVec2:
		return fmt.Sprintf("vec2(%g, %g)", v.vec[0], v.vec[1])
	case KindVec3:
		return fmt.Sprintf("vec3(%g, %g, %g)", v.vec[0], v.vec[1], v.vec[2])
	case KindVec4:
		return fmt.Sprintf("vec4(%g, %g, %g, %g)", v.vec[0], v.vec[1], v.vec[2], v.vec[3])
	case KindInt:
		return fmt.Sprintf("int(%d)", v.i)
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.i != 0)
	case KindTexture:
		if v.uri != "" {
			return fmt.Sprintf("texture(%q)", v.uri)
		}
		if v.tex != nil {
			return fmt.Sprintf("texture(%dx%d)", v.tex.Width(), v.tex.Height())
		}
		return "texture(nil)"
	}
	return "invalid"
}
