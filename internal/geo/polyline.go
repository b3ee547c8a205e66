package geo

import (
	"strings"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

// EncodePolyline compresses a coordinate sequence using the Google
// polyline algorithm (5 decimal places of precision).
func EncodePolyline(points []models.Coordinate) string {
	var sb strings.Builder
	prevLat, prevLon := 0, 0
	for _, p := range points {
		lat := int(round(p.Latitude * 1e5))
		lon := int(round(p.Longitude * 1e5))
		encodeSigned(&sb, lat-prevLat)
		encodeSigned(&sb, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return sb.String()
}

// DecodePolyline is the inverse of EncodePolyline. Truncated input yields
// the points decoded so far; it never panics on malformed data.
func DecodePolyline(enc string) []models.Coordinate {
	var out []models.Coordinate
	lat, lon := 0, 0
	i := 0
	for i < len(enc) {
		dLat, n := decodeSigned(enc[i:])
		if n == 0 {
			break
		}
		i += n
		dLon, n := decodeSigned(enc[i:])
		if n == 0 {
			break
		}
		i += n
		lat += dLat
		lon += dLon
		out = append(out, models.Coordinate{
			Latitude:  float64(lat) / 1e5,
			Longitude: float64(lon) / 1e5,
		})
	}
	return out
}

func encodeSigned(sb *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		sb.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	sb.WriteByte(byte(u + 63))
}

// decodeSigned returns the next delta and the number of bytes consumed,
// or (0, 0) when the chunk is incomplete.
func decodeSigned(s string) (int, int) {
	result, shift := 0, 0
	for i := 0; i < len(s); i++ {
		b := int(s[i]) - 63
		result |= (b & 0x1f) << shift
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), i + 1
			}
			return result >> 1, i + 1
		}
		shift += 5
	}
	return 0, 0
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}
