package geo

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// EarthRadiusKm is the mean Earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0
	// KmPerDegree approximates one degree of latitude. The bounding box uses
	// it as a cheap pre-filter; it degrades near the poles and for very large
	// radii, which is acceptable for intra-city dispatch.
	KmPerDegree = 111.0

	DefaultAverageSpeedKmh = 30.0
	// PickupBufferMinutes is added to every ETA for pickup and traffic.
	PickupBufferMinutes = 10

	distancePrecision = 2
)

// BoundingBox is an inclusive lat/lon window around a center point.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// NewBoundingBox returns the window covering radiusKm around the center.
// When the longitude degree collapses near the poles the window spans every
// longitude. Windows crossing the antimeridian are not wrapped.
func NewBoundingBox(centerLat, centerLon, radiusKm float64) BoundingBox {
	latDelta := radiusKm / KmPerDegree
	box := BoundingBox{
		MinLat: math.Max(centerLat-latDelta, -90),
		MaxLat: math.Min(centerLat+latDelta, 90),
		MinLon: -180,
		MaxLon: 180,
	}

	cosLat := math.Cos(toRadians(centerLat))
	if cosLat <= 1e-9 {
		return box
	}
	lonDelta := radiusKm / (KmPerDegree * cosLat)
	if lonDelta >= 180 {
		return box
	}
	box.MinLon = centerLon - lonDelta
	box.MaxLon = centerLon + lonDelta
	return box
}

// Contains reports whether the point falls inside the window.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// CalculateDistance returns the great-circle distance in kilometres between
// two points, rounded to two decimals.
func CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return roundKm(haversine(lat1, lon1, lat2, lon2))
}

// CalculateETA estimates minutes to cover distanceKm at avgSpeedKmh plus the
// pickup buffer. Non-positive speeds fall back to DefaultAverageSpeedKmh.
func CalculateETA(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAverageSpeedKmh
	}
	if distanceKm <= 0 || math.IsNaN(distanceKm) {
		return PickupBufferMinutes
	}
	travel := decimal.NewFromFloat(distanceKm).
		Mul(decimal.NewFromInt(60)).
		Div(decimal.NewFromFloat(avgSpeedKmh)).
		Ceil()
	return int(travel.IntPart()) + PickupBufferMinutes
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func roundKm(km float64) float64 {
	return decimal.NewFromFloat(km).Round(distancePrecision).InexactFloat64()
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
