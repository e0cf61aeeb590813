package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Extensions maps output formats to file extensions.
var Extensions = map[string]string{
	"JPEG": "jpg",
	"PNG":  "png",
	"GIF":  "gif",
}

// Extension returns the file extension for format.
func Extension(format string) (string, error) {
	ext, ok := Extensions[strings.ToUpper(format)]
	if !ok {
		return "", fmt.Errorf("unsupported thumbnail format %q", format)
	}
	return ext, nil
}

// Tokey fingerprints parts into a 32 character hex token (128 bits of
// SHA-256). Parts are length prefixed so ("ab", "c") and ("a", "bc")
// never collide.
func Tokey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s", len(p), p)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Derive computes the cache key of a thumbnail.
func Derive(sourceKey, geometry string, serializedOptions []byte) string {
	return Tokey(sourceKey, geometry, string(serializedOptions))
}

// ThumbnailName lays a key out as <prefix>/<k[0:2]>/<k[2:4]>/<k>.<ext>
// to bound directory fan-out.
func ThumbnailName(prefix, key, ext string) string {
	return path.Join(prefix, key[:2], key[2:4], key+"."+ext)
}

// AlternativeName inserts an @<ratio>x marker before the extension:
// "cache/ab/cd/abcd.jpg" with 2 becomes "cache/ab/cd/abcd@2x.jpg".
func AlternativeName(name string, ratio float64) string {
	ext := path.Ext(name)
	marker := "@" + strconv.FormatFloat(ratio, 'f', -1, 64) + "x"
	return strings.TrimSuffix(name, ext) + marker + ext
}

// Serialize renders an option map into a canonical byte form: keys
// sorted, numbers in shortest form regardless of their Go type.
func Serialize(opts map[string]any) []byte {
	var b strings.Builder
	writeValue(&b, opts)
	return []byte(b.String())
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		b.WriteString(strconv.Quote(val))
	case int:
		writeFloat(b, float64(val))
	case int64:
		writeFloat(b, float64(val))
	case float32:
		writeFloat(b, float64(val))
	case float64:
		writeFloat(b, val)
	case []float64:
		b.WriteByte('[')
		for i, f := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeFloat(b, f)
		}
		b.WriteByte(']')
	case []int:
		b.WriteByte('[')
		for i, n := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeFloat(b, float64(n))
		}
		b.WriteByte(']')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		names := make([]string, 0, len(val))
		for k := range val {
			names = append(names, k)
		}
		sort.Strings(names)

		b.WriteByte('{')
		for i, k := range names {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeValue(b, val[k])
		}
		b.WriteByte('}')
	case fmt.Stringer:
		b.WriteString(strconv.Quote(val.String()))
	default:
		b.WriteString(strconv.Quote(fmt.Sprint(val)))
	}
}

func writeFloat(b *strings.Builder, f float64) {
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}
